package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// cliOptions holds the parsed command line. The set* fields record which
// run flags were given explicitly so they only override the config then.
type cliOptions struct {
	configPath     string
	envFile        string
	model          string
	maxTokens      int
	agents         int
	noStream       bool
	concurrency    int
	serveMCP       bool
	markdown       bool
	showCandidates bool
	verbose        bool
	version        bool

	setModel, setMaxTokens, setAgents, setConcurrency bool

	words []string
}

func newFlagSet(o *cliOptions, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("promode", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, "Usage: promode [flags] <prompt words...>\n\n"+
			"Generate several candidate answers and synthesize one final answer.\n"+
			"Without prompt words the prompt is read from stdin or asked for interactively.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&o.configPath, "config", "", "path to configuration file (default: promode.yaml if present)")
	fs.StringVar(&o.envFile, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&o.model, "model", "", "model identifier (overrides config)")
	fs.IntVar(&o.maxTokens, "max_tokens", 0, "output token cap per call (overrides config)")
	fs.IntVar(&o.agents, "n_agents", 0, "number of candidate answers (overrides config)")
	fs.BoolVar(&o.noStream, "no_stream", false, "disable streaming for candidates; synthesis always streams")
	fs.IntVar(&o.concurrency, "concurrency", 0, "generate up to this many candidates at once (overrides config)")
	fs.BoolVar(&o.serveMCP, "serve-mcp", false, "serve the pro_mode tool over MCP on stdio")
	fs.BoolVar(&o.markdown, "markdown", false, "render the final answer as markdown")
	fs.BoolVar(&o.showCandidates, "show-candidates", false, "print a one-line preview of every candidate")
	fs.BoolVar(&o.verbose, "verbose", false, "enable debug logging on stderr")
	fs.BoolVar(&o.version, "version", false, "print version and exit")

	return fs
}

// parseArgs parses flags that may be interleaved with prompt words. A "--"
// ends flag parsing; everything after it is prompt text.
func parseArgs(args []string, output io.Writer) (cliOptions, error) {
	var o cliOptions
	fs := newFlagSet(&o, output)

	for {
		if err := fs.Parse(args); err != nil {
			return cliOptions{}, err
		}

		rest := fs.Args()
		if len(rest) == 0 {
			break
		}

		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			o.words = append(o.words, rest...)
			break
		}

		o.words = append(o.words, rest[0])
		args = rest[1:]
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			o.setModel = true
		case "max_tokens":
			o.setMaxTokens = true
		case "n_agents":
			o.setAgents = true
		case "concurrency":
			o.setConcurrency = true
		}
	})

	return o, nil
}

// isHelp reports whether err came from -h or --help.
func isHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
