package main

import (
	"fmt"

	"github.com/dentalnet/offline-edge/internal/version"
)

// printVersion 输出版本串；--version 不读取配置，也不初始化日志。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
