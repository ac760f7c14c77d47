package collab

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	// 指针标签，表示从 original 还是 add 切片上偏移
	buf    bufferKind
	offset int
	length int
}

// PieceTable 是文本文档的内容缓冲区：原文和新增各一块只追加缓冲，
// 编辑只改分片列表，不搬动已有文本。
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

var _ Buffer = (*PieceTable)(nil)

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	return &PieceTable{
		original: r,
		pieces:   []piece{{buf: bufOriginal, offset: 0, length: len(r)}},
	}
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var res string
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			res += string(pt.original[p.offset : p.offset+p.length])
		case bufAdd:
			res += string(pt.add[p.offset : p.offset+p.length])
		}
	}
	return res
}

// Insert 在逻辑位置 pos 插入文本：新文本追加进 add 缓冲，
// 命中的 piece 拆成 左 / 新 / 右 三段。
func (pt *PieceTable) Insert(pos int, text string) {
	if pos < 0 {
		pos = 0
	}
	if n := pt.Len(); pos > n {
		pos = n
	}

	r := []rune(text)
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(r)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	newPieces := make([]piece, 0, len(pt.pieces)+2)
	newPieces = append(newPieces, pt.pieces[:idx]...)
	if left.length > 0 {
		newPieces = append(newPieces, left)
	}
	newPieces = append(newPieces, newPiece)
	if right.length > 0 {
		newPieces = append(newPieces, right)
	}
	newPieces = append(newPieces, pt.pieces[idx+1:]...)
	pt.pieces = newPieces
}

// Delete 从逻辑位置 pos 删除 count 个字符，跨 piece 时逐段处理。
func (pt *PieceTable) Delete(pos, count int) {
	if pos < 0 {
		count += pos
		pos = 0
	}
	if count <= 0 {
		return
	}

	remain := count
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		// 这个 piece 里还剩多少可删
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// 整个 piece 都删掉，idx 不动（现在这个位置是下一个 piece）
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
			offset = 0
		} else {
			leftLen := offset
			rightLen := cur.length - offset - take

			newPieces := make([]piece, 0, len(pt.pieces)+1)
			newPieces = append(newPieces, pt.pieces[:idx]...)
			if leftLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			newPieces = append(newPieces, pt.pieces[idx+1:]...)
			pt.pieces = newPieces

			// 继续删时只可能是“左段保留、右段删光”的情形，
			// 下一个待处理 piece 紧跟在左段后面
			if leftLen > 0 {
				idx++
			}
			offset = 0
		}

		remain -= take
	}
}

// 根据逻辑位置 pos，找到对应的 piece 下标 idx 和在该 piece 内的偏移 offset
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
