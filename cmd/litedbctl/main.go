// Command litedbctl inspects a LiteDB file: page-level stats and,
// optionally, the live row count of one table, without going through the
// application that wrote it. It does not list the catalog.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/litedb/litedb"
)

func main() {
	path := flag.String("db", "", "path to the LiteDB file to inspect")
	table := flag.String("table", "", "if set, also report the row count of this table")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: litedbctl -db <path> [-table <name>]")
		os.Exit(2)
	}

	db, err := litedb.Open(*path, litedb.OpenOptions{ReadOnly: true})
	if err != nil {
		log.Fatalf("litedbctl: open %s: %v", *path, err)
	}
	defer db.Close()

	stats := db.Stats()
	fmt.Println(stats.String())

	if *table == "" {
		return
	}
	if !db.IsTableExists(*table) {
		log.Fatalf("litedbctl: table %q not found in %s", *table, *path)
	}
	tbl, err := db.OpenTable(*table)
	if err != nil {
		log.Fatalf("litedbctl: open table %q: %v", *table, err)
	}
	fmt.Printf("table %q: %d live row(s)\n", *table, tbl.NumRows())
}
