package app

import (
	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/adapter/jsonl"
	"github.com/vk/graphmeld/internal/adapter/neo4j"
	"github.com/vk/graphmeld/internal/adapter/ntriples"
	"github.com/vk/graphmeld/internal/adapter/sqlitestore"
	"github.com/vk/graphmeld/internal/adapter/tsv"
)

// coreModules is the default set of format modules registered when the
// caller does not provide its own.
var coreModules = []adapter.Module{
	tsv.Module{},
	jsonl.Module{},
	ntriples.Module{},
	sqlitestore.Module{},
	neo4j.Module{},
}
