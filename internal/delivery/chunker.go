package delivery

import "unicode/utf8"

// MaxChunkSize Telegram 单条消息的字符上限
const MaxChunkSize = 4096

// Chunk 按顺序发送的一段文本
type Chunk struct {
	Index int
	Text  string
}

// Split 按固定字符（rune）偏移切分文本，不考虑词或行边界。
// 长度不超过 max 时返回单个分片；空文本返回 nil。max <= 0 时使用 MaxChunkSize。
// 所有分片按顺序拼接后与原文完全一致。
func Split(text string, max int) []Chunk {
	if max <= 0 {
		max = MaxChunkSize
	}
	if text == "" {
		return nil
	}

	if utf8.RuneCountInString(text) <= max {
		return []Chunk{{Index: 0, Text: text}}
	}

	// 按字节偏移前进，非法 UTF-8 字节各计为一个字符并原样保留
	var chunks []Chunk
	for start := 0; start < len(text); {
		end := start
		for n := 0; n < max && end < len(text); n++ {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:end]})
		start = end
	}
	return chunks
}
