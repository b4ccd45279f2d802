// Package render serializes an aggregate of nodes into one of the output
// dialects.
package render

import (
	"fmt"

	"github.com/John-Robertt/submerge-go/internal/model"
)

type Target string

const (
	TargetClash   Target = "clash"
	TargetSingbox Target = "singbox"
	TargetPlain   Target = "plain"
)

// ParseTarget maps the request's output_format value to a Target. Unknown
// values are a client error.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetClash, TargetSingbox, TargetPlain:
		return Target(s), nil
	default:
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: fmt.Sprintf("不支持的 output_format（仅支持 clash/singbox/plain）：%s", s),
				Stage:   "validate_request",
			},
		}
	}
}

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// Render serializes the aggregate. The mapping from target to implementation
// is total over the Target constants.
func Render(target Target, nodes []model.Node) (string, error) {
	if len(nodes) == 0 {
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "SUB_PARSE_ERROR",
				Message: "没有任何可用节点",
				Stage:   "render",
			},
		}
	}
	switch target {
	case TargetClash:
		return renderClash(nodes)
	case TargetSingbox:
		return renderSingbox(nodes)
	case TargetPlain:
		return renderPlain(nodes)
	default:
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: fmt.Sprintf("不支持的 output_format：%s", target),
				Stage:   "render",
			},
		}
	}
}

// ContentType is the MIME type for a serialized document of this target.
func ContentType(target Target) string {
	switch target {
	case TargetClash:
		return "text/yaml; charset=utf-8"
	case TargetSingbox:
		return "application/json; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ConfigFileName is the scratch file name a core expects for this target.
func ConfigFileName(target Target) string {
	switch target {
	case TargetClash:
		return "config.yaml"
	case TargetSingbox:
		return "config.json"
	default:
		return "config.txt"
	}
}

// CheckArgs builds the core's config-validation invocation, or nil when the
// target has no binary-backed check (plain).
func CheckArgs(target Target, configDir, configPath string) []string {
	switch target {
	case TargetClash:
		return []string{"-t", "-d", configDir, "-f", configPath}
	case TargetSingbox:
		return []string{"check", "-c", configPath}
	default:
		return nil
	}
}

// CoreName names the converter binary backing this target, or "" for native
// only targets.
func CoreName(target Target) string {
	switch target {
	case TargetClash:
		return "mihomo"
	case TargetSingbox:
		return "sing-box"
	default:
		return ""
	}
}
