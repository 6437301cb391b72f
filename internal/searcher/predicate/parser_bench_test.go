package predicate

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "quarterly report"},
		{"boolean_and", "Name:report AND _Text:finance AND IsLastPublic:yes"},
		{"boolean_or", "_Text:draft OR _Text:memo OR _Text:minutes"},
		{"with_not", "_Text:report NOT Name:draft*"},
		{"typed_range", "NodeId:[100 TO 200} AND VersionId:[1 TO 5000]"},
		{"nested", `+(Name:rep* OR _Text:"annual report") -(Path:/Root/Trash^2 OR Type:Folder)`},
	}
	p := NewParser(Schema{"NodeId": value.KindLong, "VersionId": value.KindLong, "IsLastPublic": value.KindBool}, "_Text")
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := p.Parse(q.query); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
