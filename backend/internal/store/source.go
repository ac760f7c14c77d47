package store

import (
	"context"
	"errors"
)

// DocumentSource 决定重建/落盘从哪份内容起步：
// 优先房间的最近快照，没有快照再回退到源文档表，都没有从空文档开始。
type DocumentSource struct {
	snapshots *SnapshotStore
	documents *DocumentStore
	// fileName 为空时（后台落盘路径）用的缺省源文件名
	defaultFile string
}

func NewDocumentSource(snapshots *SnapshotStore, documents *DocumentStore, defaultFile string) *DocumentSource {
	return &DocumentSource{snapshots: snapshots, documents: documents, defaultFile: defaultFile}
}

func (s *DocumentSource) LoadDocument(ctx context.Context, fileName, roomName string) (string, error) {
	content, _, found, err := s.snapshots.LoadLatestSnapshot(ctx, roomName)
	if err != nil {
		return "", err
	}
	if found {
		return content, nil
	}

	if fileName == "" {
		fileName = s.defaultFile
	}
	content, err = s.documents.GetDocumentContent(ctx, fileName)
	if errors.Is(err, ErrDocumentNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return content, nil
}
