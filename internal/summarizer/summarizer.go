package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySummary 模型返回了空文本
var ErrEmptySummary = errors.New("summarizer returned empty text")

// Summarizer 将汇总文档压缩为一条可发送的晨报
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

const briefInstruction = `당신은 증권사 리서치센터의 시황 애널리스트입니다.
아래 수집 자료를 바탕으로 출근길 투자자를 위한 아침 시황 요약을 한국어로 작성하세요.

형식:
- 첫 줄: 📈 아침 시황 요약 (%s)
- 핵심 요약 3~5개 bullet, 각 한 문장
- 주요 지수 등락률은 숫자를 그대로 인용
- 마지막 줄: 오늘의 관전 포인트 한 문장

자료에 없는 내용은 추측하지 마세요.`

const detailedInstruction = `당신은 증권사 리서치센터의 시황 애널리스트입니다.
아래 수집 자료를 바탕으로 아침 시황 리포트를 한국어로 작성하세요.

형식:
1. 📈 아침 시황 리포트 (%s)
2. 미국 증시 마감 요약: 주요 지수와 등락률
3. 매크로·원자재·금리: 달러 인덱스, 유가, 10년물 금리, VIX 해석
4. 주요 뉴스: 뉴스별 한 줄 요약과 시장 심리(긍정/부정/중립)
5. 국내 시장 시사점 및 오늘의 관전 포인트

자료에 없는 내용은 추측하지 마세요.`

// Instruction 根据格式与日期生成系统提示词
func Instruction(detailed bool, date string) string {
	if detailed {
		return fmt.Sprintf(detailedInstruction, date)
	}
	return fmt.Sprintf(briefInstruction, date)
}

// cleanSummary 去掉模型有时包裹在外层的 markdown 代码块
func cleanSummary(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```markdown")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}
