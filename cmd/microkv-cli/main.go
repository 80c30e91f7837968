// microkv-cli - command-line client for microkv.
//
// With arguments it executes one command and exits:
//
//	microkv-cli -p 31337 SET foo bar
//
// Without arguments it drops into an interactive REPL.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/microkv/microkv/internal/client"
	"github.com/microkv/microkv/internal/protocol"
	"github.com/microkv/microkv/internal/version"
)

func main() {
	app := &cli.App{
		Name:      "microkv-cli",
		Usage:     "command-line client for microkv",
		Version:   version.Version,
		ArgsUsage: "[COMMAND [ARG...]]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Usage:   "Server host",
				EnvVars: []string{"MICROKV_HOST"},
				Value:   "127.0.0.1",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Server port",
				EnvVars: []string{"MICROKV_PORT"},
				Value:   31337,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	addr := net.JoinHostPort(c.String("host"), strconv.Itoa(c.Int("port")))
	cl, err := client.Dial(addr)
	if err != nil {
		return err
	}
	defer cl.Close()

	if c.Args().Present() {
		return execute(cl, c.Args().Slice())
	}
	return repl(cl, addr)
}

func execute(cl *client.Client, args []string) error {
	reply, err := cl.Execute(args...)
	if err != nil {
		var cmdErr *client.CommandError
		if errors.As(err, &cmdErr) {
			fmt.Printf("(error) %s\n", cmdErr.Message)
			return nil
		}
		return err
	}
	printReply(reply)
	return nil
}

func repl(cl *client.Client, addr string) error {
	fmt.Printf("Connected to microkv at %s. Type 'exit' or 'quit' to leave.\n", addr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if err := execute(cl, strings.Fields(line)); err != nil {
			return err
		}
	}
}

func printReply(v protocol.Value) {
	fprintReply(os.Stdout, v)
}

func fprintReply(w io.Writer, v protocol.Value) {
	switch {
	case v.Null:
		fmt.Fprintln(w, "(nil)")
	case v.Type == protocol.TypeInteger:
		fmt.Fprintln(w, v.Num)
	case v.Type == protocol.TypeSimpleString, v.Type == protocol.TypeBulkString:
		fmt.Fprintln(w, v.Str)
	case v.Type == protocol.TypeArray:
		for i, elem := range v.Array {
			fmt.Fprintf(w, "%d) ", i+1)
			fprintReply(w, elem)
		}
	case v.Type == protocol.TypeMap:
		for _, entry := range v.Map {
			fprintReply(w, entry.Key)
			fmt.Fprint(w, " => ")
			fprintReply(w, entry.Value)
		}
	default:
		fmt.Fprintf(w, "%+v\n", v)
	}
}
