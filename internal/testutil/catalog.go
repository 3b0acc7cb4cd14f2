package testutil

import (
	"github.com/hupe1980/gitscout/core"
	"github.com/hupe1980/gitscout/internal/util"
)

type searchCodeArgs struct {
	Query string `json:"query" description:"Search expression matched against the indexed repository."`
	Limit int    `json:"limit,omitempty" description:"Maximum number of hits to return."`
}

type listContributorsArgs struct {
	Repository string `json:"repository" description:"owner/name of the repository to inspect."`
}

// RepoTools returns a small repository-research catalog shared by tests:
// a concurrent-safe search tool and a serialized contributor lister.
func RepoTools() []core.ToolDescriptor {
	return []core.ToolDescriptor{
		{
			Name:        "search_code",
			Description: "Search the indexed repository for code matching a query.",
			InputSchema: util.SchemaFromStruct(searchCodeArgs{}),
		},
		{
			Name:        "list_contributors",
			Description: "List the contributors of a repository.",
			InputSchema: util.SchemaFromStruct(listContributorsArgs{}),
			Serial:      true,
		},
	}
}
