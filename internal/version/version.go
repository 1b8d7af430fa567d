package version

import (
	"fmt"
	"runtime"
)

// Version/Commit 在构建时通过 -ldflags "-X" 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

const product = "offline-edge"

// Full 返回 CLI 与 /-/status 展示的版本串。
func Full() string {
	return fmt.Sprintf("%s %s (%s, %s)", product, Version, Commit, runtime.Version())
}

// UserAgent 是 edge 自己发起的请求（连通性探测）使用的 User-Agent。
func UserAgent() string {
	return product + "/" + Version
}
