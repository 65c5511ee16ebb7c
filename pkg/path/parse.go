package path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned for a path string that cannot be parsed.
var ErrSyntax = errors.New("invalid path syntax")

// ParseAttributePath parses the form produced by AttributePath.String,
// e.g. "1/0x0006/0x0000", "*/0x0006/*" or "1/0x0040/0x0000[3]". Numbers
// may be decimal or 0x prefixed hex.
func ParseAttributePath(s string) (AttributePath, error) {
	fields, err := split(s)
	if err != nil {
		return AttributePath{}, err
	}

	listIndex := NoListIndex
	last := fields[2]
	if open := strings.IndexByte(last, '['); open >= 0 {
		if !strings.HasSuffix(last, "]") {
			return AttributePath{}, fmt.Errorf("%w: %q", ErrSyntax, s)
		}
		idx, err := strconv.ParseUint(last[open+1:len(last)-1], 0, 16)
		if err != nil || idx == uint64(NoListIndex) {
			return AttributePath{}, fmt.Errorf("%w: list index in %q", ErrSyntax, s)
		}
		listIndex = uint16(idx)
		last = last[:open]
	}

	endpoint, err := parseField(fields[0], 16, uint64(WildcardEndpoint))
	if err != nil {
		return AttributePath{}, fmt.Errorf("%w: endpoint in %q", ErrSyntax, s)
	}
	cluster, err := parseField(fields[1], 32, uint64(WildcardCluster))
	if err != nil {
		return AttributePath{}, fmt.Errorf("%w: cluster in %q", ErrSyntax, s)
	}
	attribute, err := parseField(last, 32, uint64(WildcardAttribute))
	if err != nil {
		return AttributePath{}, fmt.Errorf("%w: attribute in %q", ErrSyntax, s)
	}

	p := AttributePath{
		Endpoint:  EndpointID(endpoint),
		Cluster:   ClusterID(cluster),
		Attribute: AttributeID(attribute),
		ListIndex: listIndex,
	}
	if p.HasListIndex() && p.IsWildcard() {
		return AttributePath{}, fmt.Errorf("%w: list index on wildcard path %q", ErrSyntax, s)
	}
	return p, nil
}

// ParseEventPath parses the form produced by EventPath.String, e.g.
// "1/0x0006/!0x0001". The "!" marker is optional.
func ParseEventPath(s string) (EventPath, error) {
	fields, err := split(s)
	if err != nil {
		return EventPath{}, err
	}

	endpoint, err := parseField(fields[0], 16, uint64(WildcardEndpoint))
	if err != nil {
		return EventPath{}, fmt.Errorf("%w: endpoint in %q", ErrSyntax, s)
	}
	cluster, err := parseField(fields[1], 32, uint64(WildcardCluster))
	if err != nil {
		return EventPath{}, fmt.Errorf("%w: cluster in %q", ErrSyntax, s)
	}
	event, err := parseField(strings.TrimPrefix(fields[2], "!"), 32, uint64(WildcardEvent))
	if err != nil {
		return EventPath{}, fmt.Errorf("%w: event in %q", ErrSyntax, s)
	}
	return NewEventPath(EndpointID(endpoint), ClusterID(cluster), EventID(event)), nil
}

func split(s string) ([]string, error) {
	fields := strings.Split(strings.TrimSpace(s), "/")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %q needs endpoint/cluster/id", ErrSyntax, s)
	}
	return fields, nil
}

func parseField(s string, bits int, wildcard uint64) (uint64, error) {
	if s == "*" {
		return wildcard, nil
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, err
	}
	if v == wildcard {
		return 0, ErrSyntax
	}
	return v, nil
}
