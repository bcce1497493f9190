package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"volatility-prover/internal/container"
	"volatility-prover/internal/engine"
)

// 退出码
const (
	exitOK         = 0
	exitOther      = 1
	exitInput      = 2
	exitOverflow   = 3
	exitDivergence = 4
	exitBackend    = 5
)

// configError marks flag, config and key problems; they exit with exitInput.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func configErr(format string, args ...interface{}) error {
	return configError{err: fmt.Errorf(format, args...)}
}

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"keygen": {"生成证明/验证密钥", runKeygen},
	"run":    {"只计算并做一致性检查", runCompute},
	"prove":  {"计算、检查并提交证明", runProve},
	"batch":  {"并行处理多个样本文件", runBatch},
	"watch":  {"监听 substream 目录，新区块到达时自动证明", runWatch},
	"serve":  {"启动 HTTP/WebSocket 服务", runServe},
	"fetch":  {"从以太坊节点拉取 Swap 事件并写成样本文件", runFetch},
}

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage()
		if len(args) == 0 {
			return exitInput
		}
		return exitOK
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "未知子命令: %s\n", args[0])
		usage()
		return exitInput
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.run(ctx, args[1:])
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
	}
	return exitCode(err)
}

func usage() {
	fmt.Fprintln(os.Stderr, "用法: rvprover <子命令> [参数]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name].usage)
	}
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	var cfgErr configError
	if errors.As(err, &cfgErr) || errors.Is(err, container.ErrKeysUnavailable) {
		return exitInput
	}
	switch engine.Classify(err) {
	case "invalid_input":
		return exitInput
	case "overflow":
		return exitOverflow
	case "defect", "divergence":
		return exitDivergence
	case "backend":
		return exitBackend
	}
	return exitOther
}
