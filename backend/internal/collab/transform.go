package collab

import "context"

// Transformer 是外部注入的操作变换能力：把 action 针对一组并发操作
// 做调整，使其在乱序到达时仍保持编辑意图。算法本身不属于同步核心，
// 单元测试用直通实现即可。
type Transformer interface {
	Transform(action *ActionInfo, concurrent []*ActionInfo)
}

// DocumentApplier 是外部注入的文档应用能力：把一串操作按顺序
// 应用到文档内容上，返回新内容。
type DocumentApplier interface {
	Apply(ctx context.Context, content string, actions []*ActionInfo) (string, error)
}

// 直通变换：不修改负载，只打标记。作为缺省实现和测试替身。
type PassthroughTransformer struct{}

func (PassthroughTransformer) Transform(action *ActionInfo, concurrent []*ActionInfo) {
	action.IsTransformed = true
}

// transformUntransformed 按日志顺序（插入顺序，而非客户端到达顺序）
// 对批次里尚未变换的操作执行变换。谁先提交谁先生效。
func transformUntransformed(t Transformer, actions []*ActionInfo) {
	for _, a := range actions {
		if !a.IsTransformed {
			t.Transform(a, actions)
		}
	}
}
