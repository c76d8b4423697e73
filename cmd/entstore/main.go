package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/entstore/entstore/entstore"
	"github.com/entstore/entstore/entstore/filter"
	"github.com/entstore/entstore/entstore/key"
	"github.com/entstore/entstore/entstore/storage"
	"github.com/entstore/entstore/entstore/storage/postgres"
	"github.com/entstore/entstore/entstore/storage/sqlite"
	"github.com/entstore/entstore/entstore/storage/sqlstore"
	"github.com/entstore/entstore/entstore/wire"
)

// whereArgs is a custom flag type for repeatable --where flags
type whereArgs []string

func (w *whereArgs) String() string { return strings.Join(*w, ",") }
func (w *whereArgs) Set(v string) error {
	*w = append(*w, v)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	ctx := context.Background()

	switch command {
	case "put":
		handlePut(ctx, os.Args[2:])
	case "get":
		handleGet(ctx, os.Args[2:])
	case "delete":
		handleDelete(ctx, os.Args[2:])
	case "query":
		handleQuery(ctx, os.Args[2:])
	case "aggregate":
		handleAggregate(ctx, os.Args[2:])
	case "cleanup-cursors":
		handleCleanup(ctx, os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("entstore - a schema-less entity store with structured queries")
	fmt.Println("\nUsage:")
	fmt.Println("  entstore put -i <store> [--ns <namespace>] [--backend sqlite|postgres]     (read entity JSON lines from stdin)")
	fmt.Println("  entstore get -i <store> -k <key-token> [--ns <namespace>]")
	fmt.Println("  entstore delete -i <store> -k <key-token> [--ns <namespace>]")
	fmt.Println("  entstore query -i <store> --kind <kind> [--where 'prop op value']... [--order prop[:desc]]")
	fmt.Println("                 [--limit N] [--offset N] [--after <cursor>] [--select a,b] [--explain]")
	fmt.Println("  entstore aggregate -i <store> --kind <kind> [--where ...] [--count alias] [--sum prop:alias] [--avg prop:alias]")
	fmt.Println("  entstore cleanup-cursors -i <store>")
	fmt.Println("\nBackends:")
	fmt.Println("  sqlite   - SQLite file database (default); -i is the .db path")
	fmt.Println("  postgres - PostgreSQL; -i is the connection string, --schema-name the schema (default 'entstore')")
	fmt.Println("\nKey tokens look like List,'chores'/Task,7 (kind,id or kind,'name' per path element).")
	fmt.Println("Entity JSON lines carry {\"key\": {...}, \"properties\": {...}} in wire form.")
}

// createAdapter picks the storage adapter for the backend flag
func createAdapter(backend, storeRef, schemaName string) storage.Adapter {
	switch backend {
	case "postgres", "pg":
		if schemaName == "" {
			schemaName = "entstore"
		}
		return postgres.New(storeRef, schemaName)
	default:
		return sqlite.New(storeRef)
	}
}

func openStore(ctx context.Context, backend, storeRef, schemaName string) *sqlstore.Store {
	st, err := sqlstore.Open(ctx, createAdapter(backend, storeRef, schemaName), sqlstore.DefaultOptions())
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	return st
}

func storeFlags(fs *flag.FlagSet) (storeRef, backend, schemaName, ns *string) {
	storeRef = fs.String("i", "", "store path or DSN (required)")
	backend = fs.String("backend", "sqlite", "backend: sqlite or postgres")
	schemaName = fs.String("schema-name", "", "PostgreSQL schema name (default: entstore)")
	ns = fs.String("ns", "", "namespace partition")
	return
}

func handlePut(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	storeRef, backend, schemaName, ns := storeFlags(fs)
	fs.Parse(args)

	if *storeRef == "" {
		fs.Usage()
		os.Exit(1)
	}

	st := openStore(ctx, *backend, *storeRef, *schemaName)
	defer st.Close()

	scanner := bufio.NewScanner(os.Stdin)
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e wire.Entity
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			fmt.Printf("Error parsing entity: %v\n", err)
			os.Exit(1)
		}
		if e.Key != nil && e.Key.Namespace == "" {
			e.Key.Namespace = *ns
		}
		if err := st.Put(ctx, &e); err != nil {
			fmt.Printf("Error putting entity: %v\n", err)
			os.Exit(1)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading stdin: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Put %d entities\n", count)
}

func handleGet(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	storeRef, backend, schemaName, ns := storeFlags(fs)
	token := fs.String("k", "", "key token (required)")
	fs.Parse(args)

	if *storeRef == "" || *token == "" {
		fs.Usage()
		os.Exit(1)
	}

	k, err := key.ParseToken(*ns, *token)
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		os.Exit(1)
	}

	st := openStore(ctx, *backend, *storeRef, *schemaName)
	defer st.Close()

	e, ok, err := st.Get(ctx, k)
	if err != nil {
		fmt.Printf("Error getting entity: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Printf("Entity not found: %s\n", *token)
		os.Exit(1)
	}
	pretty, _ := json.MarshalIndent(e, "", "  ")
	fmt.Println(string(pretty))
}

func handleDelete(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	storeRef, backend, schemaName, ns := storeFlags(fs)
	token := fs.String("k", "", "key token (required)")
	fs.Parse(args)

	if *storeRef == "" || *token == "" {
		fs.Usage()
		os.Exit(1)
	}

	k, err := key.ParseToken(*ns, *token)
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		os.Exit(1)
	}

	st := openStore(ctx, *backend, *storeRef, *schemaName)
	defer st.Close()

	deleted, err := st.Delete(ctx, k)
	if err != nil {
		fmt.Printf("Error deleting entity: %v\n", err)
		os.Exit(1)
	}
	if deleted {
		fmt.Printf("Deleted: %s\n", *token)
	} else {
		fmt.Printf("Entity not found: %s\n", *token)
	}
}

func buildQuery(db *entstore.Database, kind string, wheres whereArgs, orders whereArgs,
	limit, offset int, after, sel string) (*entstore.Query, error) {
	q := db.NewQuery(kind)
	for _, w := range wheres {
		prop, op, val, err := parseWhere(w)
		if err != nil {
			return nil, err
		}
		q = q.Filter(filter.Where(prop, op, val))
	}
	for _, o := range orders {
		if name, ok := strings.CutSuffix(o, ":desc"); ok {
			q = q.OrderDesc(name)
		} else {
			q = q.Order(strings.TrimSuffix(o, ":asc"))
		}
	}
	if limit >= 0 {
		q = q.Limit(limit)
	}
	if offset >= 0 {
		q = q.Offset(offset)
	}
	if after != "" {
		q = q.Start(entstore.Cursor(after))
	}
	if sel != "" {
		q = q.Select(strings.Split(sel, ",")...)
	}
	return q, nil
}

// parseWhere splits "prop op value" and guesses the value's type:
// quoted strings stay strings, true/false/null are themselves, numbers
// become integers or doubles.
func parseWhere(s string) (string, filter.Operator, filter.Value, error) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 3)
	if len(parts) != 3 {
		return "", "", nil, fmt.Errorf("malformed --where %q (expected 'prop op value')", s)
	}
	prop, op, raw := parts[0], filter.Operator(parts[1]), parts[2]

	switch {
	case raw == "null":
		return prop, op, filter.Null(), nil
	case raw == "true" || raw == "false":
		return prop, op, filter.Boolean(raw == "true"), nil
	case strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2:
		return prop, op, filter.String(raw[1 : len(raw)-1]), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return prop, op, filter.Integer(n), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return prop, op, filter.Double(f), nil
	}
	return prop, op, filter.String(raw), nil
}

func handleQuery(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	storeRef, backend, schemaName, ns := storeFlags(fs)
	kind := fs.String("kind", "", "entity kind (required)")
	limit := fs.Int("limit", -1, "max results (-1 = unbounded)")
	offset := fs.Int("offset", -1, "results to skip")
	after := fs.String("after", "", "cursor for pagination")
	sel := fs.String("select", "", "comma-separated projection properties")
	explain := fs.Bool("explain", false, "include query diagnostics")
	format := fs.String("format", "pretty", "output format: pretty or json")

	var wheres, orders whereArgs
	fs.Var(&wheres, "where", "filter 'prop op value' (repeatable)")
	fs.Var(&orders, "order", "sort property, suffix :desc for descending (repeatable)")
	fs.Parse(args)

	if *storeRef == "" || *kind == "" {
		fs.Usage()
		os.Exit(1)
	}

	st := openStore(ctx, *backend, *storeRef, *schemaName)
	defer st.Close()

	db := entstore.NewDatabase(st).WithNamespace(*ns)
	q, err := buildQuery(db, *kind, wheres, orders, *limit, *offset, *after, *sel)
	if err != nil {
		fmt.Printf("Error building query: %v\n", err)
		os.Exit(1)
	}

	opts := entstore.RunOptions{}
	if *explain {
		opts.Explain = &entstore.ExplainOptions{Analyze: true}
	}
	entities, info, err := q.Run(ctx, opts)
	if err != nil {
		fmt.Printf("Error running query: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		output := map[string]any{
			"entities":     entityMaps(entities),
			"more_results": info.MoreResults.String(),
		}
		if len(info.EndCursor) > 0 {
			output["end_cursor"] = string(info.EndCursor)
		}
		jsonOut, _ := json.Marshal(output)
		fmt.Println(string(jsonOut))
		return
	}

	if *explain && info.ExplainMetrics != nil {
		fmt.Println("=== Query Diagnostics ===")
		pretty, _ := json.MarshalIndent(info.ExplainMetrics, "", "  ")
		fmt.Println(string(pretty))
		fmt.Println("\n=== Results ===")
	}

	for _, e := range entities {
		pretty, _ := json.MarshalIndent(map[string]any{
			"key":        e.Key.Token(),
			"properties": e.Properties,
		}, "", "  ")
		fmt.Println(string(pretty))
	}

	fmt.Printf("\n--- %d results, %s", len(entities), info.MoreResults)
	if info.MoreResults != entstore.NoMoreResults && len(info.EndCursor) > 0 {
		fmt.Printf(" (cursor: %s)", info.EndCursor)
	}
	fmt.Println(" ---")
}

func entityMaps(entities []entstore.Entity) []map[string]any {
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		out = append(out, map[string]any{
			"key":        e.Key.Token(),
			"properties": e.Properties,
		})
	}
	return out
}

func handleAggregate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	storeRef, backend, schemaName, ns := storeFlags(fs)
	kind := fs.String("kind", "", "entity kind (required)")
	count := fs.String("count", "", "count alias")
	sum := fs.String("sum", "", "sum as prop:alias")
	avg := fs.String("avg", "", "avg as prop:alias")

	var wheres whereArgs
	fs.Var(&wheres, "where", "filter 'prop op value' (repeatable)")
	fs.Parse(args)

	if *storeRef == "" || *kind == "" {
		fs.Usage()
		os.Exit(1)
	}
	if *count == "" && *sum == "" && *avg == "" {
		fmt.Println("At least one of --count, --sum, --avg required")
		os.Exit(1)
	}

	st := openStore(ctx, *backend, *storeRef, *schemaName)
	defer st.Close()

	db := entstore.NewDatabase(st).WithNamespace(*ns)
	q, err := buildQuery(db, *kind, wheres, nil, -1, -1, "", "")
	if err != nil {
		fmt.Printf("Error building query: %v\n", err)
		os.Exit(1)
	}

	agg := q.NewAggregationQuery()
	if *count != "" {
		agg = agg.WithCount(*count)
	}
	if *sum != "" {
		prop, alias := splitPropAlias(*sum)
		agg = agg.WithSum(prop, alias)
	}
	if *avg != "" {
		prop, alias := splitPropAlias(*avg)
		agg = agg.WithAvg(prop, alias)
	}

	res, err := agg.Run(ctx, entstore.RunOptions{})
	if err != nil {
		fmt.Printf("Error running aggregation: %v\n", err)
		os.Exit(1)
	}
	for alias, v := range res {
		fmt.Printf("  %s: %v\n", alias, v)
	}
}

func splitPropAlias(s string) (string, string) {
	if prop, alias, ok := strings.Cut(s, ":"); ok {
		return prop, alias
	}
	return s, s
}

func handleCleanup(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("cleanup-cursors", flag.ExitOnError)
	storeRef, backend, schemaName, _ := storeFlags(fs)
	fs.Parse(args)

	if *storeRef == "" {
		fs.Usage()
		os.Exit(1)
	}

	st := openStore(ctx, *backend, *storeRef, *schemaName)
	defer st.Close()

	if err := st.CleanupExpiredCursors(ctx); err != nil {
		fmt.Printf("Error cleaning up cursors: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Expired cursors removed")
}
