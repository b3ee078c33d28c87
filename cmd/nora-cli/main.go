package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/mnohosten/nora-db/pkg/database"
	"github.com/mnohosten/nora-db/pkg/impex"
)

const (
	version = "0.1.0"
	banner  = `
╔══════════════════════════════════════╗
║         NoraDB CLI v%s          ║
║   Embedded Document Database        ║
╚══════════════════════════════════════╝

Type 'help' for available commands
Type 'exit' or 'quit' to exit

`
)

type CLI struct {
	db          *database.Database
	currentColl string
	scanner     *bufio.Scanner
}

func NewCLI(name string) *CLI {
	return &CLI{
		db:      database.New(name),
		scanner: bufio.NewScanner(os.Stdin),
	}
}

func (c *CLI) Run() error {
	fmt.Printf(banner, version)

	for {
		prompt := "nora> "
		if c.currentColl != "" {
			prompt = fmt.Sprintf("nora:%s> ", c.currentColl)
		}
		fmt.Print(prompt)

		if !c.scanner.Scan() {
			break
		}

		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}

		if err := c.executeCommand(line); err != nil {
			if err.Error() == "exit" {
				fmt.Println("Goodbye!")
				return nil
			}
			fmt.Printf("Error: %v\n", err)
		}
	}

	return c.scanner.Err()
}

func (c *CLI) executeCommand(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help", "?":
		return c.showHelp()
	case "exit", "quit":
		return fmt.Errorf("exit")
	case "use":
		return c.useCollection(parts)
	case "show":
		return c.showCommand(parts)
	case "insert", "find", "update", "delete", "count", "aggregate":
		return c.collectionCommand(cmd, line)
	case "createindex", "getindexes", "explain", "stats":
		return c.managementCommand(cmd, line)
	case "export":
		return c.exportSnapshot(parts)
	case "import":
		return c.importSnapshot(parts)
	case "clear":
		fmt.Print("\033[H\033[2J")
		return nil
	case "version":
		fmt.Printf("NoraDB CLI version %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func (c *CLI) showHelp() error {
	help := `
NoraDB CLI Commands:

Basic Commands:
  help, ?                  Show this help message
  exit, quit               Exit the CLI
  clear                    Clear the screen
  version                  Show CLI version
  use <collection>         Switch to a collection

Collection Operations:
  insert <json>              Insert a document
  find [query] [options]     Find documents; options support projection,
                             sort, skip and limit
  update <query> <update> [options]
                             Update the first matching document; pass
                             {"upsert": true} to insert when nothing matches
  delete <query>             Delete the first matching document
  count [query]              Count documents
  aggregate <stages>         Run an aggregation pipeline (JSON array of stages)

Index Management:
  createindex <field,...> [options]  Create an index over one or more fields
  getindexes                         List all indexes
  explain <query>                    Show the access plan for a query
  stats                              Show collection statistics

Snapshots:
  export <file>            Export the database to a snapshot file
  import <file>            Import a snapshot file (replaces collections)
                           Files ending in .gz or .zst are compressed

Information:
  show collections         List all collections

Examples:
  use users
  insert {"name": "Alice", "age": 25}
  find {"age": {"$gte": 21}}
  find {} {"sort": [{"field": "age", "order": -1}], "limit": 5}
  update {"name": "Alice"} {"$inc": {"age": 1}} {"upsert": true}
  aggregate [{"$group": {"_id": "$city", "n": {"$sum": 1}}}]
  createindex name {"unique": true}
  export backup.json.gz

Note: JSON must be properly formatted with double quotes.
`
	fmt.Println(help)
	return nil
}

func (c *CLI) useCollection(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: use <collection>")
	}
	c.currentColl = parts[1]
	fmt.Printf("Switched to collection '%s'\n", c.currentColl)
	return nil
}

func (c *CLI) showCommand(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: show <collections>")
	}

	switch strings.ToLower(parts[1]) {
	case "collections", "colls":
		names := c.db.ListCollections()
		if len(names) == 0 {
			fmt.Println("(no collections)")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	default:
		return fmt.Errorf("unknown show command: %s", parts[1])
	}
}

func (c *CLI) collectionCommand(cmd, line string) error {
	if c.currentColl == "" {
		return fmt.Errorf("no collection selected (use 'use <collection>' first)")
	}

	coll := c.db.Collection(c.currentColl)

	jsonStart := strings.IndexAny(line, "{[")
	if jsonStart == -1 && cmd != "find" && cmd != "count" {
		return fmt.Errorf("command requires a JSON argument")
	}

	switch cmd {
	case "insert":
		return c.insertDocument(coll, line[jsonStart:])
	case "find":
		if jsonStart == -1 {
			return c.findDocuments(coll, "{}")
		}
		return c.findDocuments(coll, line[jsonStart:])
	case "update":
		return c.updateDocuments(coll, line)
	case "delete":
		return c.deleteDocuments(coll, line[jsonStart:])
	case "count":
		if jsonStart == -1 {
			return c.countDocuments(coll, "{}")
		}
		return c.countDocuments(coll, line[jsonStart:])
	case "aggregate":
		return c.runPipeline(line[jsonStart:])
	}

	return nil
}

func (c *CLI) insertDocument(coll *database.Collection, jsonStr string) error {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	id, err := coll.InsertOne(doc)
	if err != nil {
		return err
	}

	fmt.Printf("Inserted document with _id: %v\n", id)
	return nil
}

func (c *CLI) findDocuments(coll *database.Collection, jsonStr string) error {
	filter, optsMap, err := parseArgs(jsonStr)
	if err != nil {
		return fmt.Errorf("invalid JSON query: %w", err)
	}

	opts := &database.QueryOptions{}
	if optsMap != nil {
		opts, err = database.QueryOptionsFromMap(optsMap)
		if err != nil {
			return err
		}
	}

	docs, err := coll.FindWithOptions(filter, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Found %d document(s):\n", len(docs))
	for i, doc := range docs {
		jsonBytes, _ := json.MarshalIndent(doc.ToMap(), "", "  ")
		fmt.Printf("\n[%d] %s\n", i+1, string(jsonBytes))
	}

	return nil
}

func (c *CLI) updateDocuments(coll *database.Collection, line string) error {
	// Parse: update {query} {update} [{options}]
	jsonStart := strings.Index(line, "{")
	if jsonStart == -1 {
		return fmt.Errorf("usage: update <query> <update> [options]")
	}

	args, err := parseArgList(line[jsonStart:])
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: update <query> <update> [options]")
	}

	opts := &database.UpdateOptions{}
	if len(args) == 3 {
		opts, err = database.UpdateOptionsFromMap(args[2])
		if err != nil {
			return err
		}
	}

	result, err := coll.UpdateOne(args[0], args[1], opts)
	if err != nil {
		return err
	}

	if result.UpsertedID != nil {
		fmt.Printf("Upserted document with _id: %v\n", result.UpsertedID)
		return nil
	}
	fmt.Printf("Matched %d, modified %d document(s)\n", result.MatchedCount, result.ModifiedCount)
	return nil
}

// parseArgs reads an argument object plus an optional trailing options object
func parseArgs(jsonStr string) (map[string]interface{}, map[string]interface{}, error) {
	args, err := parseArgList(jsonStr)
	if err != nil {
		return nil, nil, err
	}
	switch len(args) {
	case 1:
		return args[0], nil, nil
	case 2:
		return args[0], args[1], nil
	default:
		return nil, nil, fmt.Errorf("expected one or two JSON objects")
	}
}

// parseArgList reads consecutive JSON objects from a command line
func parseArgList(jsonStr string) ([]map[string]interface{}, error) {
	decoder := json.NewDecoder(strings.NewReader(jsonStr))

	args := make([]map[string]interface{}, 0, 2)
	for decoder.More() {
		var obj map[string]interface{}
		if err := decoder.Decode(&obj); err != nil {
			return nil, err
		}
		args = append(args, obj)
	}
	return args, nil
}

func (c *CLI) deleteDocuments(coll *database.Collection, jsonStr string) error {
	var filter map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &filter); err != nil {
		return fmt.Errorf("invalid JSON query: %w", err)
	}

	result, err := coll.DeleteOne(filter)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d document(s)\n", result.DeletedCount)
	return nil
}

func (c *CLI) countDocuments(coll *database.Collection, jsonStr string) error {
	var filter map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &filter); err != nil {
		return fmt.Errorf("invalid JSON query: %w", err)
	}

	count, err := coll.Count(filter)
	if err != nil {
		return err
	}

	fmt.Printf("Count: %d document(s)\n", count)
	return nil
}

func (c *CLI) runPipeline(jsonStr string) error {
	var stages []map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &stages); err != nil {
		return fmt.Errorf("invalid pipeline JSON: %w", err)
	}

	docs, err := c.db.Aggregate(c.currentColl, stages)
	if err != nil {
		return err
	}

	fmt.Printf("Pipeline produced %d document(s):\n", len(docs))
	for i, doc := range docs {
		jsonBytes, _ := json.MarshalIndent(doc.ToMap(), "", "  ")
		fmt.Printf("\n[%d] %s\n", i+1, string(jsonBytes))
	}

	return nil
}

func (c *CLI) managementCommand(cmd, line string) error {
	if c.currentColl == "" {
		return fmt.Errorf("no collection selected")
	}

	coll := c.db.Collection(c.currentColl)

	switch cmd {
	case "createindex":
		return c.createIndex(coll, line)
	case "getindexes":
		return c.getIndexes(coll)
	case "explain":
		return c.explainQuery(coll, line)
	case "stats":
		return c.showStats(coll)
	}

	return nil
}

func (c *CLI) createIndex(coll *database.Collection, line string) error {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return fmt.Errorf("usage: createindex <field,...> [options]")
	}

	fields := strings.Split(parts[1], ",")
	unique := false

	if len(parts) > 2 {
		optJSON := strings.Join(parts[2:], " ")
		var opts map[string]interface{}
		if err := json.Unmarshal([]byte(optJSON), &opts); err != nil {
			return fmt.Errorf("invalid options JSON: %w", err)
		}
		if u, ok := opts["unique"].(bool); ok {
			unique = u
		}
	}

	name, err := coll.CreateIndex(fields, unique)
	if err != nil {
		return err
	}

	fmt.Printf("Created index %s (unique=%v)\n", name, unique)
	return nil
}

func (c *CLI) getIndexes(coll *database.Collection) error {
	indexes := coll.ListIndexes()

	fmt.Printf("Indexes on collection '%s':\n", c.currentColl)
	for i, idx := range indexes {
		jsonBytes, _ := json.MarshalIndent(idx, "  ", "  ")
		fmt.Printf("\n[%d] %s\n", i+1, string(jsonBytes))
	}

	return nil
}

func (c *CLI) explainQuery(coll *database.Collection, line string) error {
	jsonStart := strings.Index(line, "{")
	filterJSON := "{}"
	if jsonStart != -1 {
		filterJSON = line[jsonStart:]
	}

	var filter map[string]interface{}
	if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
		return fmt.Errorf("invalid JSON query: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(coll.Explain(filter), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}

func (c *CLI) showStats(coll *database.Collection) error {
	jsonBytes, err := json.MarshalIndent(coll.Stats(), "", "  ")
	if err != nil {
		return err
	}

	fmt.Printf("Collection statistics for '%s':\n%s\n", c.currentColl, string(jsonBytes))
	return nil
}

func (c *CLI) exportSnapshot(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: export <file>")
	}
	path := parts[1]

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	opts := &impex.ExportOptions{Compression: compressionForPath(path)}
	if err := impex.Export(c.db, file, opts); err != nil {
		return err
	}

	fmt.Printf("Exported database to %s\n", path)
	return nil
}

func (c *CLI) importSnapshot(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: import <file>")
	}
	path := parts[1]

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := impex.Import(c.db, file); err != nil {
		return err
	}

	fmt.Printf("Imported snapshot from %s\n", path)
	return nil
}

func compressionForPath(path string) impex.Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return impex.CompressionGzip
	case strings.HasSuffix(path, ".zst"):
		return impex.CompressionZstd
	default:
		return impex.CompressionNone
	}
}

func main() {
	name := "default"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}

	cli := NewCLI(name)
	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
