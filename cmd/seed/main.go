package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/meshtrace/pathprobe/internal/source"
)

func main() {
	var file string
	var addr string
	var key string
	flag.StringVar(&file, "frames", "", "path to frame observations file (hex[|path|sender] per line)")
	flag.StringVar(&addr, "redis", "127.0.0.1:6379", "redis addr")
	flag.StringVar(&key, "key", "pathprobe:frames", "redis queue key")
	flag.Parse()
	if file == "" {
		fmt.Fprintln(os.Stderr, "missing -frames")
		os.Exit(1)
	}
	q, err := source.NewRedis(addr, key, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}
	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		obs := source.Observation{RawHex: parts[0], TS: time.Now().UTC().Unix()}
		if len(parts) > 1 {
			obs.PathString = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			obs.SenderKey = strings.ToLower(strings.TrimSpace(parts[2]))
		}
		_ = q.Seed(context.Background(), obs)
	}
	fmt.Println("seeded", key)
}
