package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
)

const DefaultMaxPosixErrors = 1000

// ParsePatternExpression compiles a file filter. The expression sees two
// variables: path (the file path) and type ("d" or "f"). A blank pattern
// yields nil, which accepts everything.
func ParsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": struct{}{}, "type": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVariables)
			}
		}
	}
	return expr, nil
}

// PosixCrawler walks a directory tree with up to conc directories listed
// concurrently and collects the regular files accepted by the pattern.
// Directories are always descended into; the pattern applies to files only.
type PosixCrawler struct {
	Outputs       chan *FileInfo
	Error         chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
}

func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *PosixCrawler {
	if conc < 1 {
		conc = 1
	}
	return &PosixCrawler{
		Outputs:       make(chan *FileInfo, 4096),
		Error:         make(chan error, 100),
		concLimit:     make(chan struct{}, conc),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

// Crawl returns every accepted file below root, sorted by path.
func (pc *PosixCrawler) Crawl(root string) ([]*FileInfo, error) {
	var files []*FileInfo
	outputDone := make(chan struct{})
	go func() {
		for info := range pc.Outputs {
			files = append(files, info)
		}
		close(outputDone)
	}()

	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(root, false)
	pc.wg.Wait()

	close(pc.Outputs)
	<-outputDone

	close(pc.Error)
	var errors []string
	for err := range pc.Error {
		errors = append(errors, err.Error())
		if len(errors) >= DefaultMaxPosixErrors {
			errors = append(errors, " ... too many errors")
			break
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
	if len(errors) > 0 {
		return files, fmt.Errorf("%s", strings.Join(errors, "\n"))
	}
	return files, nil
}

func (pc *PosixCrawler) reportError(err error) {
	select {
	case pc.Error <- err:
	default:
	}
}

func (pc *PosixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}
	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.reportError(fmt.Errorf("Could not read dir: %v", err))
		return
	}

	for _, ent := range entries {
		filePath := filepath.Join(currPath, ent.Name())
		fStat, err := ent.Info()
		if err != nil {
			pc.reportError(err)
			continue
		}

		if fStat.Mode()&os.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			if fStat, err = os.Stat(filePath); err != nil {
				pc.reportError(err)
				continue
			}
		}

		if fStat.IsDir() {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go pc.crawlDir(filePath, false)
			default:
				pc.crawlDir(filePath, true)
			}
			continue
		}
		if !fStat.Mode().IsRegular() {
			continue
		}

		if pc.pattern != nil {
			ok, err := pc.evaluatePatternExpression(filePath, "f")
			if err != nil {
				pc.reportError(err)
				continue
			}
			if !ok {
				continue
			}
		}

		pc.Outputs <- &FileInfo{FilePath: filePath, Size: fStat.Size(), MTime: fStat.ModTime().UTC()}
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath, fileType string) (bool, error) {
	parameters := map[string]interface{}{"type": fileType, "path": filePath}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}
