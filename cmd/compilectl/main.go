// Command compilectl talks to a running compile service.
//
//	compilectl [-url URL] ping
//	compilectl [-url URL] health
//	compilectl [-url URL] compile -name NAME [-in FILE] [-out FILE]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/compile_service/internal/httputil"
)

const defaultURL = "http://localhost:8080"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compilectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", envOr("COMPILER_URL", defaultURL), "compile service base URL")
	timeout := fs.Duration("timeout", 5*time.Minute, "request timeout")
	retries := fs.Int("retries", 2, "retries when the service is busy or rate limited (-1 disables)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: compilectl [flags] ping|health|compile [compile flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := httputil.NewClient(httputil.ClientConfig{
		BaseURL:    *baseURL,
		Timeout:    *timeout,
		MaxRetries: *retries,
	})

	var err error
	switch cmd := fs.Arg(0); cmd {
	case "ping":
		err = ping(ctx, client, stdout)
	case "health":
		err = health(ctx, client, stdout)
	case "compile":
		err = compile(ctx, client, fs.Args()[1:], stdin, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	if err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

func ping(ctx context.Context, client *httputil.Client, stdout io.Writer) error {
	msg, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg)
	return nil
}

func health(ctx context.Context, client *httputil.Client, stdout io.Writer) error {
	body, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s %s\n",
		gjson.GetBytes(body, "service").String(),
		gjson.GetBytes(body, "version").String(),
		gjson.GetBytes(body, "status").String())
	gjson.GetBytes(body, "details").ForEach(func(key, value gjson.Result) bool {
		fmt.Fprintf(stdout, "  %s: %s\n", key.String(), value.String())
		return true
	})
	return nil
}

func compile(ctx context.Context, client *httputil.Client, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "model name (defaults to the input file name)")
	in := fs.String("in", "-", "model source file, - for stdin")
	out := fs.String("out", "", "artifact path (defaults to NAME.wasm, - for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var src []byte
	var err error
	if *in == "-" {
		src, err = io.ReadAll(stdin)
	} else {
		src, err = os.ReadFile(*in)
	}
	if err != nil {
		return fmt.Errorf("read model source: %w", err)
	}

	modelName := *name
	if modelName == "" && *in != "-" {
		base := filepath.Base(*in)
		modelName = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if modelName == "" {
		return errors.New("-name is required when reading from stdin")
	}

	artifact, err := client.Compile(ctx, string(src), modelName)
	if err != nil {
		return err
	}
	defer artifact.Close()

	dest := *out
	if dest == "" {
		dest = modelName + ".wasm"
	}
	if dest == "-" {
		_, err = io.Copy(stdout, artifact)
		return err
	}

	// write beside the destination and rename so a failed download never
	// leaves a truncated module in place
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".compilectl-*")
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(tmp, artifact)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	fmt.Fprintf(stderr, "wrote %s (%d bytes)\n", dest, n)
	return nil
}

func printError(w io.Writer, err error) {
	var apiErr *httputil.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		fmt.Fprintf(w, "error: %s (HTTP %d)\n%s\n", apiErr.Code, apiErr.StatusCode, apiErr.Message)
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
