package proxylog

import (
	"io"
	"os"
	"os/exec"
	"sync"
)

// Variables to allow whitebox mocking for testing error conditions,
// same pattern the teacher uses for its own external-zstd wrapper.
var (
	osPipe      = os.Pipe
	zstdCommand = "zstd"
)

type waitingWriteCloser struct {
	io.WriteCloser
	wg *sync.WaitGroup
}

func (w waitingWriteCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	w.wg.Wait()
	return nil
}

// compressToFile pipes src through an external zstd process and writes
// the compressed output to dstPath, then removes src. It blocks until
// zstd has finished. Used to compress a rotated-out backup log file
// without holding the whole file in memory.
func compressToFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	pipeR, pipeW, err := osPipe()
	if err != nil {
		dst.Close()
		return err
	}

	cmd := exec.Command(zstdCommand)
	cmd.Stdin = pipeR
	cmd.Stdout = dst

	runErr := make(chan error, 1)
	go func() {
		err := cmd.Run()
		pipeR.Close()
		dst.Close()
		wg.Done()
		runErr <- err
	}()

	wc := waitingWriteCloser{pipeW, &wg}
	if _, err := io.Copy(wc, src); err != nil {
		wc.Close()
		<-runErr
		return err
	}
	if err := wc.Close(); err != nil {
		<-runErr
		return err
	}
	if err := <-runErr; err != nil {
		return err
	}
	return os.Remove(srcPath)
}
