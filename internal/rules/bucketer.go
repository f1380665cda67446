package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// BucketVariant deterministically assigns a subject to an A/B variant.
// The same subject key and traffic split always yield the same variant,
// on any node, with no stored assignment state. trafficSplit is the
// share of subjects assigned to variant A.
func BucketVariant(subjectKey string, trafficSplit float64) Variant {
	if trafficSplit <= 0 {
		return VariantB
	}
	if trafficSplit >= 1 {
		return VariantA
	}

	h := fnv.New64a()
	h.Write([]byte(subjectKey))

	// Low 53 bits of the hash give a uniform value in [0, 1). FNV-1a
	// mixes its low bits well even for short keys; the high bits do not.
	u := float64(h.Sum64()&(1<<53-1)) / float64(uint64(1)<<53)
	if u < trafficSplit {
		return VariantA
	}
	return VariantB
}

// SubjectKey picks the bucketing key for a record: the caller-supplied
// subject id when present, else the record's own id, else a digest over
// the sorted record fields so the assignment stays stable for repeated
// evaluations of the same record.
func SubjectKey(subjectID string, record FactRecord) string {
	if subjectID != "" {
		return subjectID
	}

	if id, ok := record["id"].(string); ok && id != "" {
		return id
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fmt.Sprintf("%v", record[k]))
		sb.WriteByte('|')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
