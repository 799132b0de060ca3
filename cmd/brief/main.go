package main

import (
	"fmt"
	"os"
)

// 命令行入口：run 立即执行一次，schedule 按 AUTO_RUN_TIME 每日执行
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "brief:", err)
		os.Exit(1)
	}
}
