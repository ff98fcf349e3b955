package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"

	extr "github.com/nci/s2crop/crawl/extractor"
	"github.com/nci/s2crop/utils"
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

// productRecord is printed for every SAFE product found.
type productRecord struct {
	*extr.SafeProduct
	Bands []extr.BandFile `json:"bands,omitempty"`
	Error string          `json:"error,omitempty"`
}

// crawlProducts writes one JSON record per product under dir. A product
// with missing or duplicated bands is reported in its record, not fatal.
func crawlProducts(w io.Writer, dir string, codes []string, finder *extr.BandFinder) error {
	products, err := extr.FindProducts(dir)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, p := range products {
		rec := productRecord{SafeProduct: p}
		paths, err := finder.Find(p.Dir, p, codes)
		if err != nil {
			rec.Error = err.Error()
		}
		for i, path := range paths {
			rec.Bands = append(rec.Bands, extr.BandFile{Code: codes[i], Path: path})
		}
		if err := enc.Encode(&rec); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		log.Fatal("Please provide a directory of SAFE products or '-' for reading from stdin, and optionally a file pattern")
	}

	path := os.Args[1]
	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		path = strings.TrimSpace(scanner.Text())
	}

	var pattern string
	if len(os.Args) == 3 {
		pattern = os.Args[2]
	}
	expr, err := extr.ParsePatternExpression(pattern)
	ensure(err)

	config, err := utils.LoadConfig(os.Getenv("S2CROP_CONFIG"), ".env")
	ensure(err)

	finder := &extr.BandFinder{Concurrency: 8, Pattern: expr, FollowSymlink: true}
	ensure(crawlProducts(os.Stdout, path, config.BandCodes(), finder))
}
