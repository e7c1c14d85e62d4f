// Command litedb-checkpointd keeps a LiteDB file flushed to disk on a
// cron schedule, for deployments that want a periodic durability point
// without building a flush loop into the application itself.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/litedb/litedb"
)

func main() {
	path := flag.String("db", "", "path to the LiteDB file to checkpoint")
	schedule := flag.String("cron", "@every 1m", "cron schedule (robfig/cron syntax) on which to flush")
	cachePages := flag.Int("cache-pages", 0, "LRU page cache size (0 = default)")
	flag.Parse()

	if *path == "" {
		log.Fatal("litedb-checkpointd: -db is required")
	}

	db, err := litedb.Open(*path, litedb.OpenOptions{Cache: litedb.CacheLRU, CachePages: *cachePages})
	if err != nil {
		log.Fatalf("litedb-checkpointd: open %s: %v", *path, err)
	}
	defer db.Close()

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() {
		if err := db.Flush(); err != nil {
			log.Printf("litedb-checkpointd: flush failed: %v", err)
			return
		}
		log.Printf("litedb-checkpointd: checkpoint ok, %s", db.Stats().String())
	}); err != nil {
		log.Fatalf("litedb-checkpointd: invalid schedule %q: %v", *schedule, err)
	}

	log.Printf("litedb-checkpointd: session %s watching %s on %q", db.SessionID(), *path, *schedule)
	c.Start()
	defer c.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("litedb-checkpointd: shutting down, flushing one last time")
	if err := db.Flush(); err != nil {
		log.Printf("litedb-checkpointd: final flush failed: %v", err)
	}
}
