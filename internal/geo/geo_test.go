package geo

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/submerge-go/internal/corecache"
	"github.com/John-Robertt/submerge-go/internal/model"
)

func ssNode(name, server string, port int) model.Node {
	return model.Node{
		Name:   name,
		Server: server,
		Port:   port,
		Proto:  model.SS{Cipher: "aes-128-gcm", Password: "pw"},
	}
}

// A cache with no configured cores makes every probe unprobeable.
func coreLessChecker(t *testing.T) *Checker {
	t.Helper()
	cores := corecache.New(corecache.Options{
		Dir:   t.TempDir(),
		Specs: map[string]corecache.CoreSpec{},
	})
	return New(cores, Options{ScratchRoot: t.TempDir(), ProbeTimeout: 2 * time.Second})
}

func TestTagAll_NoCores_MarksSkippedKeepsOrder(t *testing.T) {
	c := coreLessChecker(t)
	nodes := []model.Node{
		ssNode("a", "h1.example.com", 1),
		ssNode("b", "h2.example.com", 2),
		ssNode("c", "h3.example.com", 3),
	}

	got := c.TagAll(context.Background(), nodes)
	require.Len(t, got, len(nodes))
	for i, n := range got {
		require.Equal(t, "[SKP] "+nodes[i].Name, n.Name)
		// Only the display name changes; identity is untouched.
		require.Equal(t, nodes[i].Identity(), n.Identity())
	}
}

func TestTagAll_CancelledContext(t *testing.T) {
	c := coreLessChecker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := c.TagAll(ctx, []model.Node{ssNode("a", "h.example.com", 1)})
	require.Len(t, got, 1)
	require.True(t, strings.HasPrefix(got[0].Name, "["), "name=%q", got[0].Name)
}

func TestTagName(t *testing.T) {
	require.Equal(t, "[US] node", tagName("US", ssNode("node", "h.example.com", 1)))
	// Unnamed nodes fall back to server:port.
	require.Equal(t, "[TO] h.example.com:8388", tagName("TO", ssNode("", "h.example.com", 8388)))
}

func TestPickFreePort(t *testing.T) {
	port := pickFreePort()
	require.NotZero(t, port)

	// The port must be bindable right after.
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_ = l.Close()
}

func TestWaitListening(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	require.True(t, waitListening(context.Background(), port, 2*time.Second))

	free := pickFreePort()
	require.NotZero(t, free)
	start := time.Now()
	require.False(t, waitListening(context.Background(), free, 300*time.Millisecond))
	require.Less(t, time.Since(start), 5*time.Second)
}
