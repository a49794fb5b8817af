package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	analysis "github.com/zhouzirui/medrax/backend/internal/analysis/report"
	"github.com/zhouzirui/medrax/backend/internal/config"
	"github.com/zhouzirui/medrax/backend/internal/service/ai"
	"github.com/zhouzirui/medrax/backend/internal/service/caption"
	"github.com/zhouzirui/medrax/backend/internal/service/report"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "report", "测试模式: caption 或 report")
	imagePath := flag.String("image", "", "输入胸片文件路径")
	captionText := flag.String("caption", "", "直接提供影像描述，跳过描述模型")
	outputPath := flag.String("out", "", "报告输出文件路径 (默认打印到标准输出)")
	stream := flag.Bool("stream", false, "以流式方式生成报告")
	timeout := flag.Duration("timeout", 3*time.Minute, "请求超时时间")

	flag.Parse()

	if *mode != "caption" && *mode != "report" {
		flag.Usage()
		log.Fatal("请通过 -mode=caption 或 -mode=report 指定测试模式")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	text := strings.TrimSpace(*captionText)
	if text == "" {
		text = runCaption(ctx, cfg, *imagePath)
	}
	if *mode == "caption" {
		fmt.Println(text)
		return
	}

	runReport(ctx, cfg, text, *stream, *outputPath)
}

func runCaption(ctx context.Context, cfg *config.Config, imagePath string) string {
	if imagePath == "" {
		log.Fatal("需要通过 -image 指定图像文件，或通过 -caption 直接提供描述")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		log.Fatalf("读取图像失败: %v", err)
	}

	img, mime, err := caption.DecodeImage(data)
	if err != nil {
		log.Fatalf("图像解码失败: %v", err)
	}

	generator, err := caption.New(ctx, cfg.Caption, cfg.LLM)
	if err != nil {
		log.Fatalf("创建描述模型失败: %v", err)
	}

	log.Printf("开始生成影像描述: backend=%s model=%s mime=%s", cfg.Caption.Backend, cfg.Caption.Model, mime)
	started := time.Now()
	text, err := generator.Caption(ctx, img)
	if err != nil {
		log.Fatalf("描述生成失败: %v", err)
	}

	log.Printf("描述生成成功: elapsed=%s caption=%q", time.Since(started), text)
	return text
}

func runReport(ctx context.Context, cfg *config.Config, text string, stream bool, outputPath string) {
	chatModel, err := ai.NewChatModel(ctx, cfg.LLM, "")
	if err != nil {
		log.Fatalf("创建对话模型失败: %v", err)
	}

	synthesizer, err := report.NewSynthesizer(ctx, chatModel, cfg.Report)
	if err != nil {
		log.Fatalf("创建报告生成器失败: %v", err)
	}

	log.Printf("开始生成报告: model=%s stream=%v", cfg.LLM.Model, stream)
	started := time.Now()

	var body string
	if stream {
		body, err = synthesizer.SynthesizeStream(ctx, text, func(delta string) error {
			if outputPath == "" {
				fmt.Print(delta)
			}
			return nil
		})
		if outputPath == "" {
			fmt.Println()
		}
	} else {
		body, err = synthesizer.Synthesize(ctx, text)
	}
	if err != nil {
		log.Fatalf("报告生成失败: %v", err)
	}

	assessment := analysis.Analyze(body, cfg.Report.MinWords)
	log.Printf("报告生成完成: elapsed=%s words=%d missing=%v impression=%v",
		time.Since(started), assessment.Words, assessment.Missing, assessment.HasImpression)

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(body), 0o644); err != nil {
			log.Fatalf("写入报告失败: %v", err)
		}
		log.Printf("报告已写入 %s", outputPath)
		return
	}
	if !stream {
		fmt.Println(body)
	}
}
