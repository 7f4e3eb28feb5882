// 文件: pkg/indexer/id.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package indexer

import (
	"github.com/bwmarrin/snowflake"
)

// IDGenerator 每个投影进程一个节点号 (0-1023)
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator 创建生成器
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &IDGenerator{node: node}, nil
}

// Next 生成下一个 ID
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
