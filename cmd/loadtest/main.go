// Command loadtest fires concurrent submissions at a running judge server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/judge-engine/internal/loadtest"
	"github.com/ChuLiYu/judge-engine/internal/service"
)

// echoProgram prints its input back, so every test case is AC.
const echoProgram = `import sys
data = sys.stdin.read().strip()
print(data)
`

func main() {
	var (
		url, secret, language, source string
		requests, concurrency         int
		timeout                       time.Duration
	)

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Fire N submissions with concurrency C at POST /execute",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := echoProgram
			if source != "" {
				data, err := os.ReadFile(source)
				if err != nil {
					return err
				}
				code = string(data)
			}
			expected := "hello judge"
			req := service.ExecuteRequest{
				Code:     code,
				Language: language,
				TestCases: []service.TestCaseInput{
					{Input: "hello judge", ExpectedOutput: &expected},
				},
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Firing %d submissions at %s with concurrency %d...\n", requests, url, concurrency)
			rep, err := loadtest.Run(cmd.Context(), loadtest.Options{
				URL:         url,
				Secret:      secret,
				Requests:    requests,
				Concurrency: concurrency,
				Request:     req,
				Timeout:     timeout,
			})
			if err != nil {
				return err
			}
			rep.Print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:6001", "server base URL")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("EXECUTION_SECRET"), "execution secret")
	cmd.Flags().StringVarP(&language, "language", "l", "python", "submission language")
	cmd.Flags().StringVarP(&source, "source", "s", "", "source file (default: built-in python echo)")
	cmd.Flags().IntVarP(&requests, "requests", "n", 10, "number of submissions")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 10, "parallel submissions")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-request deadline")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
