package manifest

import (
	"strconv"
	"strings"
)

// Encode returns the canonical encoding of the signable manifest content:
//
//	{version}:{kind}
//	um:T | um:F            (version 2 only)
//	{sorted set names, comma-joined}
//	{sorted files of each set, comma-joined, one line per set}
//
// Name, signature and public key are not part of the encoding.
func Encode(m *Manifest) []byte {
	var builder strings.Builder

	builder.WriteString(strconv.Itoa(m.Version))
	builder.WriteByte(':')
	builder.WriteString(string(m.Kind))
	builder.WriteByte('\n')

	if m.Version == VersionUserManifest {
		if m.AllowUserManifest {
			builder.WriteString("um:T\n")
		} else {
			builder.WriteString("um:F\n")
		}
	}

	sets := m.SetNames()
	builder.WriteString(strings.Join(sets, ","))
	builder.WriteByte('\n')

	for _, set := range sets {
		builder.WriteString(strings.Join(m.FilesIn(set), ","))
		builder.WriteByte('\n')
	}

	return []byte(builder.String())
}
