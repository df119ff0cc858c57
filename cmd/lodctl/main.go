// lodctl is a CLI client for the gateway's REST API, covering the
// administrative operations: ingest, reconcile, truncate and health.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	apiFlag string
	rootCmd = &cobra.Command{
		Use:   "lodctl",
		Short: "CLI client for the LOD gateway REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Gateway base URL")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *resty.Client {
	return resty.New().SetBaseURL(apiFlag).SetTimeout(60 * time.Second)
}

// call runs the request and prints the response body, treating non-2xx
// statuses as command failure.
func call(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, resp.String())
	if resp.IsError() {
		return fmt.Errorf("gateway returned %s", resp.Status())
	}
	return nil
}
