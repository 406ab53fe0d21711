package main

import (
	"fmt"
	"sort"

	"github.com/cheynewallace/tabby"
	"github.com/evergreen-ci/rowan/bson"
	"github.com/urfave/cli"
)

func Stats() cli.Command {
	return cli.Command{
		Name:   "stats",
		Usage:  "count the elements of each bson type in a file",
		Before: mergeBeforeFuncs(requireFileFlag, setPlainLogger),
		Flags:  fileFlag(),
		Action: func(c *cli.Context) error {
			docs, err := readDocuments(c.String(fileFlagName))
			if err != nil {
				return err
			}

			counts := map[bson.Type]int{}
			for _, doc := range docs {
				countElements(doc, counts)
			}

			types := make([]bson.Type, 0, len(counts))
			for typ := range counts {
				types = append(types, typ)
			}
			sort.Slice(types, func(i, j int) bool {
				if counts[types[i]] != counts[types[j]] {
					return counts[types[i]] > counts[types[j]]
				}
				return types[i] < types[j]
			})

			fmt.Printf("%d documents:\n", len(docs))

			t := tabby.New()
			t.AddHeader("Type", "Count")
			for _, typ := range types {
				t.AddLine(typ.String(), counts[typ])
			}
			t.Print()

			return nil
		},
	}
}

// countElements tallies every element in the document, descending into
// embedded documents and arrays.
func countElements(doc bson.D, counts map[bson.Type]int) {
	for _, elem := range doc {
		tallyValue(elem.Value, counts)
	}
}

func tallyValue(value any, counts map[bson.Type]int) {
	if typ, ok := bson.TypeOf(value); ok {
		counts[typ]++
	}

	switch v := value.(type) {
	case bson.D:
		countElements(v, counts)
	case bson.A:
		for _, item := range v {
			tallyValue(item, counts)
		}
	case bson.CodeWithScope:
		countElements(v.Scope, counts)
	}
}
