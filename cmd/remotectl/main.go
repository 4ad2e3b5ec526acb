// Command remotectl declares models from a manifest and invokes one remote
// operation against a model service, printing the decoded result as JSON.
//
//	remotectl -models models.yaml Person findById '{"id": 1, "filter": {"include": "pets"}}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/PaesslerAG/jsonpath"

	"github.com/R3E-Network/remote_connector/internal/config"
	"github.com/R3E-Network/remote_connector/remote/connector"
	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/resolver"
)

// callArgs is the JSON argument object accepted on the command line.
type callArgs struct {
	ID      any               `json:"id"`
	Data    model.Attributes  `json:"data"`
	Filter  *model.Filter     `json:"filter"`
	Where   model.Where       `json:"where"`
	Options map[string]any    `json:"options"`
	Headers map[string]string `json:"headers"`
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML connector config")
		envFile    = flag.String("env", ".env", "Path to .env file with REMOTE_* overrides")
		modelsPath = flag.String("models", "models.yaml", "Path to model manifest (YAML or JSON)")
		url        = flag.String("url", "", "Remote service URL (overrides config)")
		selectExpr = flag.String("select", "", "JSONPath expression applied to the result, e.g. $[*].name")
		list       = flag.Bool("list", false, "List the operations of the model and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <model> [operation] [args-json]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || (!*list && flag.NArg() < 2) {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("%v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *url != "" {
		cfg.URL = *url
	}

	manifest, err := model.LoadManifest(*modelsPath)
	if err != nil {
		log.Fatalf("load models: %v", err)
	}

	conn, err := connector.New(cfg.Settings())
	if err != nil {
		log.Fatalf("create connector: %v", err)
	}
	if err := conn.DefineAll(manifest); err != nil {
		log.Fatalf("define models: %v", err)
	}

	m, err := conn.Model(flag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *list {
		for _, op := range m.Operations().Operations() {
			fmt.Printf("%-28s %-6s %s\n", op.Name, op.Method, op.Path)
		}
		return
	}

	var args callArgs
	if raw := flag.Arg(2); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			log.Fatalf("parse args: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := flag.Arg(1)
	res, err := m.Invoke(ctx, name, connector.Args{
		ID:     args.ID,
		Data:   args.Data,
		Filter: args.Filter,
		Where:  args.Where,
	}, connector.WithOptions(args.Options), withHeaders(args.Headers)).Await(ctx)
	if err != nil {
		log.Fatalf("%s.%s: %v", m.Name(), name, err)
	}

	out := render(m, name, res)
	if *selectExpr != "" {
		out, err = jsonpath.Get(*selectExpr, out)
		if err != nil {
			log.Fatalf("select %q: %v", *selectExpr, err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode result: %v", err)
	}
}

func withHeaders(headers map[string]string) connector.CallOption {
	return func(p *connector.PendingCall) {
		for k, v := range headers {
			connector.WithHeader(k, v)(p)
		}
	}
}

// render turns a call result into plain JSON data.
func render(m *connector.Model, name string, res *connector.Result) any {
	op, _ := m.Operations().Lookup(name)
	switch op.Returns {
	case resolver.ReturnsInstances:
		list := make([]any, 0, len(res.Records))
		for _, rec := range res.Records {
			list = append(list, rec.JSON())
		}
		return list
	case resolver.ReturnsCount, resolver.ReturnsAffected:
		return map[string]any{"count": res.Count}
	case resolver.ReturnsExists:
		return map[string]any{"exists": res.Exists}
	case resolver.ReturnsNothing:
		return map[string]any{"status": res.StatusCode}
	}
	if res.Record == nil {
		return nil
	}
	return res.Record.JSON()
}
