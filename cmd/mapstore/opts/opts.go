package opts

import (
	"github.com/walteh/mapstore/pkg/config"
	"github.com/walteh/mapstore/pkg/log"
	"github.com/walteh/mapstore/pkg/storage"
)

// RootOpts contains shared options used by all commands
type RootOpts struct {
	Config     *config.Config
	Store      *storage.Storage
	UserLogger *log.Logger
}
