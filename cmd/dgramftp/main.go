// Command dgramftp is a file transfer client and server. Commands travel over
// TCP, file content travels over UDP.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/fileserver"
	"github.com/fjl/dgramftp/host"
)

// exitUsage is the exit status for command line errors (EX_USAGE).
const exitUsage = 64

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dgramftp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		clientFlag = fs.Bool("c", false, "run as client")
		serverFlag = fs.Bool("s", false, "run as server")
		addrFlag   = fs.String("addr", "", "server address (default "+fileserver.DefaultServerAddr+" for -c, "+host.DefaultListenAddr+" for -s)")
		rootFlag   = fs.String("root", fileserver.DefaultRoot, "directory served by -s")
		verbosity  = fs.Int("verbosity", int(ethlog.LvlInfo), "log level (0-5)")
		verifyAcks = fs.Bool("verify-acks", false, "check the chunk index of acknowledgements")
		idleFlag   = fs.Duration("idle-timeout", 0, "how long a receiver waits for the next chunk (0 waits forever)")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: dgramftp -c | -s [options]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *clientFlag == *serverFlag || fs.NArg() > 0 || *idleFlag < 0 {
		fs.Usage()
		return exitUsage
	}

	h := ethlog.LvlFilterHandler(ethlog.Lvl(*verbosity), ethlog.StreamHandler(stderr, ethlog.TerminalFormat(true)))
	ethlog.Root().SetHandler(h)

	cfg := fileserver.Config{Root: *rootFlag, VerifyAcks: *verifyAcks, IdleTimeout: *idleFlag}
	var err error
	if *serverFlag {
		err = runServer(*addrFlag, cfg)
	} else {
		err = runClient(*addrFlag, cfg, stdin, stdout)
	}
	if err != nil {
		fmt.Fprintln(stderr, "Fatal:", err)
		return 1
	}
	return 0
}

func runServer(addr string, cfg fileserver.Config) error {
	h, err := host.Listen(host.Config{ListenAddr: addr})
	if err != nil {
		return fmt.Errorf("can't listen: %w", err)
	}
	srv, err := fileserver.NewServer(h, cfg)
	if err != nil {
		h.Close()
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ethlog.Info("Shutting down")
		srv.Close()
	}()
	return srv.Serve()
}

func runClient(addr string, cfg fileserver.Config, stdin io.Reader, stdout io.Writer) error {
	if addr == "" {
		addr = fileserver.DefaultServerAddr
	}
	client, err := fileserver.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("can't connect: %w", err)
	}
	fmt.Fprintln(stdout, "Connected to", addr)
	return client.RunShell(stdin, stdout)
}
