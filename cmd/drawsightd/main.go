package main

import (
	"fmt"
	"os"
)

// main 是 DrawSight 守护进程与命令行工具的入口。
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "drawsightd 运行失败: %v\n", err)
		os.Exit(1)
	}
}
