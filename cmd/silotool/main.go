// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// silotool compiles XML documents into silo files and inspects them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silodev/silo"
)

func newStderrLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "silotool",
		Short:         "Compile XML documents into silo files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		compileCmd(),
		dumpCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func compileCmd() *cobra.Command {
	var (
		output        string
		literalText   bool
		nativeLangs   bool
		ignoreInvalid bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "compile -o OUTPUT INPUT...",
		Short: "Compile XML files or directories into a silo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCompile(ctx, output, args, compileFlags(literalText, nativeLangs, ignoreInvalid), verbose)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output silo path (required)")
	cmd.Flags().BoolVar(&literalText, "literal-text", false, "Do not normalize whitespace in text nodes")
	cmd.Flags().BoolVar(&nativeLangs, "native-langs", false, "Prune xml:lang subtrees not matching the process locales")
	cmd.Flags().BoolVar(&ignoreInvalid, "ignore-invalid", false, "Skip inputs that fail to parse")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func compileFlags(literalText, nativeLangs, ignoreInvalid bool) silo.CompileFlags {
	flags := silo.CompileFlagNone
	if literalText {
		flags |= silo.CompileFlagLiteralText
	}
	if nativeLangs {
		flags |= silo.CompileFlagNativeLangs
	}
	if ignoreInvalid {
		flags |= silo.CompileFlagIgnoreInvalid
	}
	return flags
}

func runCompile(ctx context.Context, output string, inputs []string, flags silo.CompileFlags, verbose bool) error {
	var opts []silo.Option
	if verbose {
		opts = append(opts, silo.WithLogger(newStderrLogger()))
	}
	b := silo.New(opts...)

	for _, input := range inputs {
		st, err := os.Stat(input)
		if err != nil {
			return err
		}
		if st.IsDir() {
			err = b.ImportDir(input, nil)
		} else {
			err = b.ImportFile(input, nil)
		}
		if err != nil {
			return err
		}
	}

	s, err := b.Ensure(ctx, output, flags)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes, guid %s)\n", output, len(s.Bytes()), s.GUID())
	return nil
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump SILO",
		Short: "Print the node tree of a silo file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
}

func runDump(path string) error {
	s := silo.NewSilo()
	if err := s.LoadFromFile(path); err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	fmt.Printf("guid: %s\n", s.GUID())
	return s.Walk(func(n silo.NodeView) bool {
		var sb strings.Builder
		sb.WriteString(strings.Repeat("  ", n.Depth))
		sb.WriteByte('<')
		sb.WriteString(n.Element)
		for _, a := range n.Attrs {
			fmt.Fprintf(&sb, " %s=%q", a.Name, a.Value)
		}
		sb.WriteByte('>')
		if n.HasText {
			sb.WriteString(n.Text)
		}
		fmt.Println(sb.String())
		return true
	})
}
