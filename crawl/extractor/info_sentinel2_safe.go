package extractor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	goeval "github.com/edisonguo/govaluate"
)

var (
	ErrSafeName    = errors.New("not a Sentinel-2 SAFE product name")
	ErrMissingBand = errors.New("band file not found")
	ErrDuplicate   = errors.New("band file found more than once")
)

const (
	SafeExt          = ".SAFE"
	BandExt          = ".jp2"
	sensingLayout    = "20060102T150405"
	safeNameSections = 7
)

// ParseSafeName splits a SAFE directory name into its sections:
// MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<discriminator>.SAFE
func ParseSafeName(name string) (*SafeProduct, error) {
	base := filepath.Base(strings.TrimRight(name, "/"))
	stem := strings.TrimSuffix(base, SafeExt)
	parts := strings.Split(stem, "_")
	if stem == base || len(parts) != safeNameSections {
		return nil, fmt.Errorf("%s: %w", base, ErrSafeName)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%s: %w", base, ErrSafeName)
		}
	}

	sensing, err := time.ParseInLocation(sensingLayout, parts[2], time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid sensing time %q: %w", base, parts[2], ErrSafeName)
	}
	if len(parts[6]) < 8 {
		return nil, fmt.Errorf("%s: invalid discriminator %q: %w", base, parts[6], ErrSafeName)
	}

	return &SafeProduct{
		Name:          base,
		Mission:       parts[0],
		Level:         parts[1],
		Sensing:       parts[2],
		SensingTime:   sensing,
		Baseline:      parts[3],
		Orbit:         parts[4],
		Tile:          parts[5],
		Discriminator: parts[6],
	}, nil
}

// BandSuffix is the file name ending of the band code within the product,
// <tile>_<sensing>_<code>.jp2.
func (p *SafeProduct) BandSuffix(code string) string {
	return p.Tile + "_" + p.Sensing + "_" + code + BandExt
}

// OutputName is the mosaic file name:
// <mission>_<level>_<tile>_<discriminator date>_<labels>.tif
func (p *SafeProduct) OutputName(labels []string) string {
	return strings.Join([]string{p.Mission, p.Level, p.Tile, p.Discriminator[:8], strings.Join(labels, "_")}, "_") + ".tif"
}

// CropName derives the crop file name from the mosaic path.
func CropName(mosaic string) string {
	return strings.TrimSuffix(mosaic, filepath.Ext(mosaic)) + "_crop.tif"
}

// FindProducts lists the SAFE products directly under dir, sorted by name.
// Entries that do not parse as SAFE names are ignored.
func FindProducts(dir string) ([]*SafeProduct, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var products []*SafeProduct
	for _, ent := range entries {
		if !strings.HasSuffix(ent.Name(), SafeExt) {
			continue
		}
		p, err := ParseSafeName(ent.Name())
		if err != nil {
			continue
		}
		p.Dir = filepath.Join(dir, ent.Name())
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// BandFinder locates band files below a product directory.
type BandFinder struct {
	Concurrency   int
	Pattern       *goeval.EvaluableExpression
	FollowSymlink bool
}

// FindBandFiles returns one path per code, in the order of codes.
func FindBandFiles(root string, p *SafeProduct, codes []string) ([]string, error) {
	return (&BandFinder{Concurrency: 4, FollowSymlink: true}).Find(root, p, codes)
}

func (bf *BandFinder) Find(root string, p *SafeProduct, codes []string) ([]string, error) {
	crawler := NewPosixCrawler(bf.Concurrency, bf.Pattern, bf.FollowSymlink)
	files, err := crawler.Crawl(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", root, err)
	}

	found := make(map[string][]string, len(codes))
	for _, f := range files {
		name := filepath.Base(f.FilePath)
		for _, code := range codes {
			if strings.HasSuffix(name, p.BandSuffix(code)) {
				found[code] = append(found[code], f.FilePath)
			}
		}
	}

	paths := make([]string, len(codes))
	for i, code := range codes {
		switch matches := found[code]; len(matches) {
		case 0:
			return nil, fmt.Errorf("%s: %s: %w", p.Name, p.BandSuffix(code), ErrMissingBand)
		case 1:
			paths[i] = matches[0]
		default:
			return nil, fmt.Errorf("%s: %s: %v: %w", p.Name, p.BandSuffix(code), matches, ErrDuplicate)
		}
	}
	return paths, nil
}
