package mindmap

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultTitle = "Untitled Map"

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives the URL-safe identifier for a title. Titles with no
// usable characters fall back to a random UUID.
func Slugify(title string) string {
	slug := slugSeparators.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return uuid.NewString()
	}
	return slug
}

// SlugWithSuffix is the single retry used after a slug collision.
func SlugWithSuffix(slug string, now time.Time) string {
	return fmt.Sprintf("%s-%d", slug, now.UnixMilli())
}

// Markdown renders the tree as a heading followed by a nested bullet list.
func Markdown(tree Node) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(tree.Text)
	b.WriteString("\n\n")
	Walk(tree, func(node Node, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("- ")
		b.WriteString(node.Text)
		b.WriteString("\n")
	})
	return b.String()
}

// FileStem turns the root text into a lowercase filename stem.
func FileStem(tree Node) string {
	title := tree.Text
	if title == "" {
		title = "mindmap"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// Color maps a string (usually a user id) to a stable pastel colour.
func Color(s string) string {
	if s == "" {
		return "hsl(0, 0%, 50%)"
	}
	// The browser keeps the running hash as a float and only truncates to
	// int32 for the shift, so the same mix is reproduced here.
	var hash float64
	for _, unit := range utf16Units(s) {
		shifted := float64(toInt32(hash) << 5)
		hash = float64(unit) + (shifted - hash)
	}
	h := int(math.Abs(math.Mod(hash, 360)))
	return fmt.Sprintf("hsl(%d, 70%%, 85%%)", h)
}

func toInt32(v float64) int32 {
	return int32(uint32(int64(math.Trunc(v))))
}

// utf16Units matches the code units a browser hashes for the same string,
// so server-rendered colours agree with the client.
func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}
