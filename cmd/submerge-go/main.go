package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-Robertt/submerge-go/internal/corecache"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/geo"
	"github.com/John-Robertt/submerge-go/internal/httpapi"
	"github.com/John-Robertt/submerge-go/internal/store"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8000", "HTTP 监听地址")
	readHeaderTimeout := flag.Duration("read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	processTimeout := flag.Duration("process-timeout", 120*time.Second, "单次聚合请求的总超时（拉取+解析+生成+校验）")
	fetchTimeout := flag.Duration("fetch-timeout", 10*time.Second, "单个订阅源拉取的超时")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	coresDir := flag.String("cores-dir", "cores", "内核二进制缓存目录（留空则关闭内核校验与国别标记）")
	scratchDir := flag.String("scratch-dir", "scratch", "内核子进程的临时工作目录")
	storePath := flag.String("store", "", "托管订阅的 SQLite 文件路径（留空则不托管）")
	storeMaxAge := flag.Duration("store-max-age", 0, "托管订阅的保留时长（0 表示永久保留）")
	publicBaseURL := flag.String("public-base-url", "", "托管订阅链接的外部前缀，如 https://sub.example.com")
	geoEnabled := flag.Bool("geo", false, "启用国别标记探测（需要内核缓存）")
	healthcheck := flag.Bool("healthcheck", false, "对运行中的实例执行健康检查后退出")
	flag.Parse()

	if *healthcheck {
		u, err := deriveHealthzURL(*listen)
		if err != nil {
			log.Fatal(err)
		}
		if err := runHealthcheck(u, 3*time.Second); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt := httpapi.Options{
		ProcessTimeout: *processTimeout,
		Fetch:          fetch.Options{Timeout: *fetchTimeout},
		ScratchRoot:    *scratchDir,
		PublicBaseURL:  *publicBaseURL,
	}

	if *coresDir != "" {
		opt.Cores = corecache.New(corecache.Options{
			Dir:   *coresDir,
			Token: os.Getenv("GITHUB_TOKEN"),
		})
		go prewarmCores(ctx, opt.Cores)

		if *geoEnabled {
			opt.Geo = geo.New(opt.Cores, geo.Options{ScratchRoot: *scratchDir})
		}
	} else if *geoEnabled {
		log.Printf("geo tagging requested but cores-dir is empty; disabled")
	}

	if *storePath != "" {
		st, err := store.Open(*storePath)
		if err != nil {
			log.Fatal(err)
		}
		defer st.Close()
		opt.Store = st

		if *storeMaxAge > 0 {
			go pruneLoop(ctx, st, *storeMaxAge)
		}
	}

	srv := &http.Server{
		Addr:              *listen,
		Handler:           httpapi.NewHandlerWithOptions(opt),
		ReadHeaderTimeout: *readHeaderTimeout,
	}

	log.Printf("listening on http://%s", *listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = srv.Close()
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}
}

// prewarmCores downloads the client cores up front so the first conversion
// request does not pay for a GitHub release download.
func prewarmCores(ctx context.Context, cores *corecache.Cache) {
	for _, name := range cores.Names() {
		if _, err := cores.Get(ctx, name); err != nil {
			log.Printf("core prewarm failed name=%s err=%v", name, err)
			continue
		}
		log.Printf("core ready name=%s", name)
	}
}

func pruneLoop(ctx context.Context, st *store.Store, maxAge time.Duration) {
	tick := time.NewTicker(time.Hour)
	defer tick.Stop()
	for {
		if n, err := st.Prune(ctx, maxAge); err != nil {
			log.Printf("store prune failed: %v", err)
		} else if n > 0 {
			log.Printf("store pruned %d expired documents", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
