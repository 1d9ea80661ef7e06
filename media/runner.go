package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// RunOpts 子进程的可选执行参数
type RunOpts struct {
	Dir string
	Env []string
}

// CmdResult 子进程执行结果；非零退出码不作为 error 返回
type CmdResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandRunner 执行外部命令。
// 只有进程无法启动或 ctx 结束时才返回 error，退出码放在 CmdResult 中。
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error)
}

// LaunchError 进程未能启动（二进制不存在、无执行权限等）
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ExecRunner 基于 os/exec 的 CommandRunner
type ExecRunner struct {
	// WaitDelay ctx 取消后等待输出管道关闭的时间
	WaitDelay time.Duration
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 5 * time.Second}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CmdResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// 进程被 ctx 终止
		return result, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, &LaunchError{Name: name, Err: err}
	}
	return result, nil
}
