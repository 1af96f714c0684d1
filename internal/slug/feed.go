package slug

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrFeed indicates the upstream slug-definition snapshot could not be
// parsed. It degrades sync only; claim/release paths never depend on it.
var ErrFeed = errors.New("slug: invalid feed snapshot")

const (
	// Feed entries beyond these bounds are discarded before they can
	// reach the mapping store.
	maxFeedEntryLength = 128
	maxFeedLineLength  = 1024
	maxFeedEntries     = 10000
)

var feedEntryPattern = regexp.MustCompile(`^\s*(\w+)\s*=\s*"([^"]+)"\s*$`)

// ParseFeed extracts slug mappings from the upstream defined_specs
// snapshot. The snapshot is untrusted: the parser is permissive about
// surrounding content but bounded, and rejects entries with embedded
// quotes or excessive length rather than forwarding them.
//
// Expected shape:
//
//	az = {
//	  storage_account = "st"
//	  ...
//	}
func ParseFeed(snapshot string) ([]Mapping, error) {
	start := strings.Index(snapshot, "az = {")
	if start < 0 {
		return nil, fmt.Errorf("%w: missing az block", ErrFeed)
	}
	block := snapshot[start:]
	if end := strings.Index(block, "}"); end >= 0 {
		block = block[:end]
	}

	now := time.Now().UTC()
	var mappings []Mapping
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(block))
	scanner.Buffer(make([]byte, maxFeedLineLength), maxFeedLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		match := feedEntryPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		resourceType, code := strings.ToLower(match[1]), strings.ToLower(match[2])
		if len(resourceType) > maxFeedEntryLength || len(code) > maxFeedEntryLength {
			continue
		}
		if strings.ContainsAny(code, `'"`) {
			continue
		}
		if _, dup := seen[resourceType]; dup {
			continue
		}
		seen[resourceType] = struct{}{}
		mappings = append(mappings, Mapping{
			ResourceType: resourceType,
			Slug:         code,
			FullName:     strings.ReplaceAll(resourceType, "_", " "),
			UpdatedAt:    now,
		})
		if len(mappings) >= maxFeedEntries {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeed, err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: no usable entries", ErrFeed)
	}
	return mappings, nil
}
