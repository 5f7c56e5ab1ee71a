package crdt

import (
	"ycrdt/internal/ylog"
)

var logger = ylog.Logger("crdt")
