package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/celerix-dev/invasions/pkg/sdk"
)

// errUsage marks a command line that could not be parsed.
var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		return
	}

	err := run(os.Args[1:], os.Stdout)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if errors.Is(err, sdk.ErrNotFound) {
		log.Fatalf("Not found: %v", err)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func run(argv []string, w io.Writer) error {
	client, err := sdk.FromEnv()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	command := strings.ToLower(argv[0])
	args := argv[1:]

	var out any
	switch command {
	case "cities":
		out, err = client.ListCities(ctx)

	case "city":
		out, err = withID(args, "city <id>", func(id int64) (any, error) { return client.GetCity(ctx, id) })

	case "invasions":
		out, err = withID(args, "invasions <cityID>", func(id int64) (any, error) { return client.ListCityInvasions(ctx, id) })

	case "tribes":
		out, err = client.ListTribes(ctx)

	case "tribe":
		out, err = withID(args, "tribe <id>", func(id int64) (any, error) { return client.GetTribe(ctx, id) })

	case "tribe-invasions":
		out, err = withID(args, "tribe-invasions <tribeID>", func(id int64) (any, error) { return client.ListTribeInvasions(ctx, id) })

	case "health":
		out, err = client.Health(ctx)

	default:
		return fmt.Errorf("%w: unknown command %s", errUsage, command)
	}

	if err != nil {
		return err
	}
	printJSON(w, out)
	return nil
}

func withID(args []string, usage string, fn func(id int64) (any, error)) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: invasions %s", errUsage, usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid id %q", errUsage, args[0])
	}
	return fn(id)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Invasions CLI - read cities, tribes and invasions")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  invasions cities")
	fmt.Fprintln(w, "  invasions city <id>")
	fmt.Fprintln(w, "  invasions invasions <cityID>")
	fmt.Fprintln(w, "  invasions tribes")
	fmt.Fprintln(w, "  invasions tribe <id>")
	fmt.Fprintln(w, "  invasions tribe-invasions <tribeID>")
	fmt.Fprintln(w, "  invasions health")
	fmt.Fprintln(w, "\nEnvironment Variables:")
	fmt.Fprintln(w, "  INVASIONS_API_URL    Base URL of the API (default: http://localhost:8000)")
}

func printJSON(w io.Writer, v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(w, v)
		return
	}
	fmt.Fprintln(w, string(bytes))
}
