package llm

import "strings"

// Fallback answers without a model. It keeps the conversation going when the
// provider is down and supplies the redirect used when a reply touches a
// trauma topic.
type Fallback struct {
	rules []fallbackRule
}

type fallbackRule struct {
	keywords []string
	reply    string
}

const (
	DefaultReply  = "네, 그렇군요. 조금 더 이야기해 주시겠어요?"
	RedirectReply = "그 이야기는 잠시 쉬어 갈까요? 요즘 즐거웠던 일을 하나 들려주세요."
)

func NewFallback() *Fallback {
	return &Fallback{
		rules: []fallbackRule{
			{keywords: []string{"슬프", "외로", "우울"}, reply: "마음이 많이 힘드셨겠어요. 제가 곁에서 이야기 들어 드릴게요."},
			{keywords: []string{"불안", "무서", "걱정"}, reply: "괜찮아요, 지금은 안전한 곳에 계세요. 천천히 숨을 한번 쉬어 볼까요?"},
			{keywords: []string{"기억", "모르겠", "잊었"}, reply: "기억이 나지 않아도 괜찮아요. 생각나는 것부터 편하게 말씀해 주세요."},
			{keywords: []string{"가족", "아들", "딸", "손주"}, reply: "가족 이야기를 들으니 참 좋네요. 어떤 분들이신지 더 들려주세요."},
			{keywords: []string{"사진"}, reply: "사진 속 이야기가 궁금해요. 누구와 함께 계셨나요?"},
			{keywords: []string{"노래", "음악"}, reply: "노래를 좋아하시는군요! 어떤 노래를 즐겨 부르셨어요?"},
			{keywords: []string{"밥", "음식", "먹었"}, reply: "맛있는 음식 이야기네요. 어떤 음식을 가장 좋아하세요?"},
		},
	}
}

// Reply picks the first rule whose keyword appears in the input
func (f *Fallback) Reply(input string) string {
	text := strings.ToLower(input)
	for _, rule := range f.rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(text, keyword) {
				return rule.reply
			}
		}
	}
	return DefaultReply
}

func (f *Fallback) Redirect() string {
	return RedirectReply
}
