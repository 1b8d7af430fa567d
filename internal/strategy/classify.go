package strategy

import (
	"net/http"
	"path"
	"strings"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

// Category 是请求分类结果，决定使用哪种策略。
type Category int

const (
	CategoryOther Category = iota
	CategoryStatic
	CategoryAPI
	CategoryNavigation
)

func (c Category) String() string {
	switch c {
	case CategoryStatic:
		return "static"
	case CategoryAPI:
		return "api"
	case CategoryNavigation:
		return "navigation"
	default:
		return "other"
	}
}

// Rules 是分类所需的全部输入，构造后不再修改。
type Rules struct {
	// StaticExtensions 为小写且带点的扩展名，例如 ".css"。
	StaticExtensions []string
	IconsPrefix      string
	APIPrefix        string
	// PageHost 是应用页面所在主机名（不含端口），与之不同的主机视为跨域 API。
	PageHost string
}

// Classify 按固定优先级分类：静态资源 → API → 导航 → 其它，首个命中即返回。
// 静态资源必须先于 API 判断，否则跨域 CDN 上的脚本/字体会被误判为 API。
func Classify(rules Rules, req *fetch.Request) Category {
	p := req.Path()

	if rules.isStatic(p) {
		return CategoryStatic
	}
	if rules.isAPI(req, p) {
		return CategoryAPI
	}
	if isNavigation(req) {
		return CategoryNavigation
	}
	return CategoryOther
}

func (r Rules) isStatic(p string) bool {
	if r.IconsPrefix != "" && strings.HasPrefix(p, r.IconsPrefix) {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, candidate := range r.StaticExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func (r Rules) isAPI(req *fetch.Request, p string) bool {
	if r.APIPrefix != "" && strings.HasPrefix(p, r.APIPrefix) {
		return true
	}
	host := req.Host()
	return r.PageHost != "" && host != "" && host != r.PageHost
}

func isNavigation(req *fetch.Request) bool {
	if req.Mode == fetch.ModeNavigate {
		return true
	}
	if !strings.EqualFold(req.Method, http.MethodGet) {
		return false
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}
