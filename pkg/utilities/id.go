package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewMemberID returns the identifier assigned to a newly registered member.
// IDs come from a process-wide snowflake node (SNOWFLAKE_NODE, default 1) so
// the sequence counter is shared by concurrent registrations. When the node
// cannot be created a KSUID is returned instead.
func NewMemberID() string {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(nodeIDFromEnv())
		if err == nil {
			node = n
		}
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}

func nodeIDFromEnv() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return 1
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return 1
	}
	return nodeID
}
