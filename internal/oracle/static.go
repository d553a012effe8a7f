package oracle

import "context"

const defaultStaticReply = `{"USER_MESSAGE": "말씀 잘 들었습니다. 계속 진행해 주세요.", "CONTRACT_DRAFT": null}`

// Static returns the same completion for every prompt. It lets the server run
// locally without model credentials.
type Static struct {
	reply string
}

// NewStatic creates a static oracle. An empty reply selects a neutral default.
func NewStatic(reply string) *Static {
	if reply == "" {
		reply = defaultStaticReply
	}
	return &Static{reply: reply}
}

// Generate implements Oracle.
func (s *Static) Generate(ctx context.Context, _ string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reply, nil
}
