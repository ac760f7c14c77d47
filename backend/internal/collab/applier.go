package collab

import (
	"context"
	"encoding/json"
	"fmt"
)

// 抽象文档内容缓冲区接口
type Buffer interface {
	Len() int
	Insert(pos int, text string)
	Delete(pos, count int)
	String() string
}

// TextApplier 是随仓库提供的 DocumentApplier：把位置式编辑负载
// 应用到纯文本缓冲上。真实部署可以换成任何理解自家负载格式的实现。
type TextApplier struct{}

// 编辑负载格式：{"type":"insert","at":5,"text":"hi"} /
// {"type":"delete","at":5,"count":2}
type editOp struct {
	Type  string `json:"type"`
	At    int    `json:"at"`
	Text  string `json:"text,omitempty"`
	Count int    `json:"count,omitempty"`
}

func (TextApplier) Apply(ctx context.Context, content string, actions []*ActionInfo) (string, error) {
	var buf Buffer = NewPieceTable(content)
	for _, a := range actions {
		if len(a.Action) == 0 {
			continue
		}
		var op editOp
		if err := json.Unmarshal(a.Action, &op); err != nil {
			return "", fmt.Errorf("decode action v%d: %w", a.Version, err)
		}
		switch op.Type {
		case "insert":
			buf.Insert(op.At, op.Text)
		case "delete":
			buf.Delete(op.At, op.Count)
		default:
			return "", fmt.Errorf("unknown action type %q (v%d)", op.Type, a.Version)
		}
	}
	return buf.String(), nil
}
