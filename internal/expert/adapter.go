// Package expert is the boundary to the external generative-model service.
// It fixes the assistant's behavioural profile (persona instruction and
// sampling parameters) at construction and translates conversation turns into
// the provider's request shape.
package expert

import (
	"context"
	"fmt"
	"time"

	"nevexpert/internal/config"
	"nevexpert/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// systemInstruction defines the assistant persona. It is opaque data as far
// as the conversation core is concerned.
const systemInstruction = `你是一位拥有20年经验的高级新能源汽车(NEV)维修专家。
你的专业领域包括：
1. 动力电池系统(BMS/电芯/PACK)故障诊断与均衡维护。
2. 驱动电机及控制器(MCU)的功率模块检测与冷却系统排查。
3. 高压配电系统(PDU/OBC/DCDC)的短路、绝缘性能分析。
4. 热管理系统(电池冷板/压缩机/PTC)的流道与逻辑分析。
5. 通讯总线(CAN/LIN)协议解析及干扰排查。

你的回答风格：
- 极度专业且具有实操性。
- 在给出建议前，务必强调安全操作规范（如佩戴绝缘手套、确认高压断电、测量余电）。
- 优先提供结构化的故障排查步骤。
- 如果用户描述模糊，请引导其提供具体的故障码(DTC)或测量数值。
- 严谨对待所有涉及高压(HV)的操作建议。`

const (
	defaultGeminiModel    = "gemini-3-pro-preview"
	defaultTemperature    = float32(0.7)
	defaultTopP           = float32(0.9)
	defaultRequestTimeout = 2 * time.Minute
)

// Adapter wraps one configured chat model behind the Responder contract.
type Adapter struct {
	chatModel model.ToolCallingChatModel
	timeout   time.Duration
}

// New builds the adapter for the given provider. Credentials come from the
// injected provider config, never from the process environment.
func New(provider string, provCfg config.ProviderConfig, timeout time.Duration) (*Adapter, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	modelName := provCfg.Model
	temperature := defaultTemperature
	topP := defaultTopP

	switch provider {
	case "gemini":
		if modelName == "" {
			modelName = defaultGeminiModel
		}
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client:      client,
			Model:       modelName,
			Temperature: &temperature,
			TopP:        &topP,
		})
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       modelName,
			APIKey:      provCfg.APIKey,
			Temperature: &temperature,
			TopP:        &topP,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:      provCfg.APIKey,
			Model:       modelName,
			BaseURL:     baseURLPtr,
			MaxTokens:   3000,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", provider, err)
	}

	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Adapter{chatModel: chatModel, timeout: timeout}, nil
}

// Respond sends the full turn history as a single awaited generation call and
// returns the assistant's text. The call is bounded by the adapter's request
// timeout; retry policy, if any, belongs to the remote service.
func (a *Adapter) Respond(ctx context.Context, turns []*models.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.chatModel.Generate(ctx, buildMessages(turns))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return resp.Content, nil
}
