// Command zenooctl is a small operational CLI around the client package:
// point it at a server and check its pulse without writing any Go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/zenoo-go/zenoo/client"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "healthcheck":
		handleHealthCheck(os.Args[2:])
	case "version-check":
		handleVersionCheck(os.Args[2:])
	case "databases":
		handleDatabases(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("zenooctl v%s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		printError(fmt.Sprintf("Unknown command: %s", command))
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(colorBold(colorCyan("zenooctl")) + " - operational checks for a Zenoo-compatible server\n")
	fmt.Println("Usage:")
	fmt.Println("  zenooctl " + colorYellow("<command>") + " [options]\n")
	fmt.Println("Commands:")
	fmt.Println("  " + colorGreen("healthcheck") + "    Probe /web/health and report round-trip time")
	fmt.Println("  " + colorGreen("version-check") + "  Fetch the server's reported version")
	fmt.Println("  " + colorGreen("databases") + "      List databases the server exposes")
	fmt.Println("  " + colorGreen("version") + "        Show zenooctl's own version")
	fmt.Println("  " + colorGreen("help") + "            Show this help message\n")
	fmt.Println("Run 'zenooctl <command> --help' for command-specific flags.\n")
	fmt.Println("Environment Variables:")
	fmt.Println("  ZENOO_HOST    Server host or full URL (e.g. https://host:8069)")
}

func handleHealthCheck(args []string) {
	fs := flag.NewFlagSet("healthcheck", flag.ExitOnError)
	host := fs.String("host", os.Getenv("ZENOO_HOST"), "Server host or URL")
	timeout := fs.Duration("timeout", 10*time.Second, "RPC timeout")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.Parse(args)

	requireHost(*host)

	printHeader("Health Check")

	c, err := client.NewClient(context.Background(), client.ClientOptions{
		HostOrURL: *host,
		Timeout:   *timeout,
		VerifySSL: !*insecure,
	})
	if err != nil {
		printError(fmt.Sprintf("Failed to build client: %v", err))
		os.Exit(1)
	}
	defer c.Close()

	fmt.Print("  1. Probing /web/health... ")
	start := time.Now()
	ctx := context.Background()
	if err := c.HealthCheck(ctx); err != nil {
		fmt.Println(colorRed("FAIL"))
		printError(fmt.Sprintf("Health check failed: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("OK (%dms)", time.Since(start).Milliseconds()))

	fmt.Println()
	printSuccess("Server is reachable and healthy")
}

func handleVersionCheck(args []string) {
	fs := flag.NewFlagSet("version-check", flag.ExitOnError)
	host := fs.String("host", os.Getenv("ZENOO_HOST"), "Server host or URL")
	timeout := fs.Duration("timeout", 10*time.Second, "RPC timeout")
	fs.Parse(args)

	requireHost(*host)

	printHeader("Server Version")

	c, err := client.NewClient(context.Background(), client.ClientOptions{
		HostOrURL: *host,
		Timeout:   *timeout,
	})
	if err != nil {
		printError(fmt.Sprintf("Failed to build client: %v", err))
		os.Exit(1)
	}
	defer c.Close()

	info, err := c.GetServerVersion(context.Background())
	if err != nil {
		printError(fmt.Sprintf("Failed to fetch version: %v", err))
		os.Exit(1)
	}
	for k, v := range info {
		fmt.Printf("  %s: %v\n", colorDim(k), v)
	}
}

func handleDatabases(args []string) {
	fs := flag.NewFlagSet("databases", flag.ExitOnError)
	host := fs.String("host", os.Getenv("ZENOO_HOST"), "Server host or URL")
	timeout := fs.Duration("timeout", 10*time.Second, "RPC timeout")
	fs.Parse(args)

	requireHost(*host)

	printHeader("Databases")

	c, err := client.NewClient(context.Background(), client.ClientOptions{
		HostOrURL: *host,
		Timeout:   *timeout,
	})
	if err != nil {
		printError(fmt.Sprintf("Failed to build client: %v", err))
		os.Exit(1)
	}
	defer c.Close()

	dbs, err := c.ListDatabases(context.Background())
	if err != nil {
		printError(fmt.Sprintf("Failed to list databases: %v", err))
		os.Exit(1)
	}
	if len(dbs) == 0 {
		printWarning("Server reported no databases")
		return
	}
	for _, db := range dbs {
		fmt.Println("  " + colorGreen("•") + " " + db)
	}
}

func requireHost(host string) {
	if host == "" {
		printError("Server host is required")
		fmt.Println("\nProvide via --host flag or ZENOO_HOST environment variable")
		os.Exit(1)
	}
}
