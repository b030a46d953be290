// Package assets finds image references inside problem HTML, rewrites them
// to local paths and mirrors the remote images to disk.
package assets

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/cpexport/naming"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const tracerName = "github.com/pevans/cpexport/assets"

// DefaultAssetsPath is the assets folder used when none is configured.
const DefaultAssetsPath = "assets"

// Kind identifies what kind of markup an image reference came from. Its
// value doubles as the filename prefix for the asset.
type Kind string

const (
	KindImage      Kind = "img"
	KindBackground Kind = "bg"
	KindPoster     Kind = "poster"
)

// Task is one image to mirror: a remote URL and the local path, relative to
// the note root, that the rewritten HTML now points at.
type Task struct {
	URL       string `json:"url"`
	LocalPath string `json:"localPath"`
	Kind      Kind   `json:"kind"`
}

// backgroundURL matches an inline background or background-image url().
// Group 1 is "-image" when present, group 2 the referenced URL.
var backgroundURL = regexp.MustCompile(`(?i)background(-image)?:\s*url\(['"]?([^'")]+)['"]?\)`)

// Extractor rewrites image references in HTML fragments.
type Extractor struct {
	assetsPath string
	tracer     trace.Tracer
}

// NewExtractor creates an extractor that places assets under assetsPath
// (relative to the note root). An empty path means DefaultAssetsPath.
func NewExtractor(assetsPath string) *Extractor {
	assetsPath = strings.Trim(path.Clean("/"+assetsPath), "/")
	if assetsPath == "" {
		assetsPath = DefaultAssetsPath
	}
	return &Extractor{
		assetsPath: assetsPath,
		tracer:     otel.Tracer(tracerName),
	}
}

// AssetsPath returns the configured assets prefix.
func (e *Extractor) AssetsPath() string {
	return e.assetsPath
}

// Extract scans fragment for <img src>, inline background images and
// <video poster>, rewrites every eligible reference to a local asset path
// and returns the rewritten fragment with the tasks needed to fill those
// paths. Tasks are ordered by kind (img, bg, poster), then document order.
//
// title names the assets; baseURL (usually the problem link) supplies the
// host for root-relative references. A fragment that cannot be parsed, or
// that has nothing to rewrite, is returned unchanged.
func (e *Extractor) Extract(ctx context.Context, fragment, title, baseURL string) (string, []Task) {
	_, span := e.tracer.Start(ctx, "assets.Extract")
	defer span.End()

	root, err := parseFragment(fragment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse fragment")
		return fragment, nil
	}
	doc := goquery.NewDocumentFromNode(root)

	var tasks []Task
	enqueue := func(kind Kind, n int, ref string, apply func(local string)) {
		task := e.newTask(kind, n, ref, title, baseURL)
		apply(task.LocalPath)
		tasks = append(tasks, task)
	}

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if !e.eligible(src) {
			return
		}
		enqueue(KindImage, i+1, src, func(local string) {
			s.SetAttr("src", local)
		})
	})

	backgrounds := 0
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		match := backgroundURL.FindStringSubmatch(style)
		if match == nil || !e.eligible(match[2]) {
			return
		}
		backgrounds++
		enqueue(KindBackground, backgrounds, match[2], func(local string) {
			replacement := fmt.Sprintf("background%s:url('%s')", match[1], local)
			s.SetAttr("style", strings.Replace(style, match[0], replacement, 1))
		})
	})

	doc.Find("video[poster]").Each(func(i int, s *goquery.Selection) {
		poster, _ := s.Attr("poster")
		if !e.eligible(poster) {
			return
		}
		enqueue(KindPoster, i+1, poster, func(local string) {
			s.SetAttr("poster", local)
		})
	})

	span.SetAttributes(attribute.Int("assets.tasks", len(tasks)))
	if len(tasks) == 0 {
		return fragment, nil
	}

	rewritten, err := doc.Html()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render fragment")
		return fragment, nil
	}
	return rewritten, tasks
}

// eligible reports whether ref points at a remote image worth mirroring.
// Data URIs and references that already look local are left alone.
func (e *Extractor) eligible(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(ref), "data:") {
		return false
	}
	return !strings.HasPrefix(ref, "./") &&
		!strings.HasPrefix(ref, "../") &&
		!strings.HasPrefix(ref, e.assetsPath)
}

// newTask resolves ref and derives the asset path for it.
func (e *Extractor) newTask(kind Kind, n int, ref, title, baseURL string) Task {
	prefix := fmt.Sprintf("%s-%d", kind, n)
	fullURL := ResolveURL(strings.TrimSpace(ref), baseURL)
	filename := naming.Sanitize(title) + "-" + prefix + "-" + originalFilename(fullURL, prefix)

	return Task{
		URL:       fullURL,
		LocalPath: e.assetsPath + "/" + filename,
		Kind:      kind,
	}
}

// ResolveURL completes ref into an absolute URL. The scheme is always
// assumed to be https: the page the fragment came from is unknown.
//
//   - "scheme://..." is returned unchanged
//   - "//host/x" becomes "https://host/x"
//   - "/x" becomes "https://<baseURL host>/x", or "https:/x" without a base
//   - anything else becomes "https://" + ref
func ResolveURL(ref, baseURL string) string {
	switch {
	case strings.Contains(ref, "://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/"):
		if base, err := url.Parse(baseURL); err == nil && base.Host != "" {
			return "https://" + base.Host + ref
		}
		return "https:" + ref
	default:
		return "https://" + ref
	}
}

// originalFilename returns the sanitized last segment of fullURL's escaped
// path, falling back to prefix, and makes sure it carries an extension.
// Percent-escapes are kept as written.
func originalFilename(fullURL, prefix string) string {
	var name string
	if u, err := url.Parse(fullURL); err == nil {
		segments := strings.Split(u.EscapedPath(), "/")
		name = naming.Sanitize(segments[len(segments)-1])
	}
	if name == "" {
		name = prefix
	}

	if !strings.Contains(name, ".") {
		name += sniffExtension(fullURL)
	}
	return name
}

// sniffExtension guesses an image extension from anywhere in the URL.
func sniffExtension(fullURL string) string {
	lower := strings.ToLower(fullURL)
	switch {
	case strings.Contains(lower, ".png"):
		return ".png"
	case strings.Contains(lower, ".jpg"), strings.Contains(lower, ".jpeg"):
		return ".jpg"
	case strings.Contains(lower, ".gif"):
		return ".gif"
	case strings.Contains(lower, ".svg"):
		return ".svg"
	default:
		return ".png"
	}
}

// parseFragment parses fragment in a <body> context and hangs the result
// off a detached body node, so nothing is hoisted into a synthetic <head>.
func parseFragment(fragment string) (*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML fragment: %w", err)
	}

	root := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}
