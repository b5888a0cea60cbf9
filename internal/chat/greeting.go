package chat

import "nevexpert/internal/models"

// Seed greetings shown as the first assistant turn of every session. The
// variant is the only behaviour the access tier changes inside the chat core.
const (
	greetingStandard = "水稻科技专家系统已启动。\n\n您好，我是水稻新能源专家AI。我已加载比亚迪、特斯拉、广汽、上汽等主流车型的全系三电诊断协议。请输入您的提问，或上传故障码图片。\n\n⚠️ 系统提示：高压系统作业需由具备低压/高压电工证人员操作，测量前请确保绝缘层完好。"

	greetingPremium = "水稻科技专家系统 - 企业级权限已开启。\n\n尊敬的专家用户，我已为您准备好最高优先级的计算链路。您可以直接发送高清晰度的故障图片，或描述复杂的三电逻辑问题，我将为您提供最深度的维修策略建议。"
)

// User-safe replies substituted for anything the model service fails to
// deliver. Never empty, never technical.
const (
	// FallbackEmptyReply covers a successful call that produced no usable text.
	FallbackEmptyReply = "抱歉，专家目前无法响应，请稍后再试。"
	// FallbackServiceError covers any adapter failure.
	FallbackServiceError = "网络连接出现异常，或API请求超出限制。请检查网络并重试。"
)

func greetingFor(tier models.Tier) string {
	if tier == models.TierPremium {
		return greetingPremium
	}
	return greetingStandard
}
