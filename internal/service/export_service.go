package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/pkg/clock"
)

// ── 导出模块业务错误 ──

var ErrExportGenerateFail = errors.New("生成 Excel 文件失败")

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response。
// Excel 格式：单 Sheet 名册，一行一个学生，含两阶段完成情况与补录标记。
type ExportService interface {
	// ExportRoster 导出会话签到名册为 Excel
	ExportRoster(ctx context.Context, session *model.AttendanceSession) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, clock: clk, logger: logger}
}

// ────────────────────── ExportRoster ──────────────────────
//
// 表头: | 姓名 | 学号 | 签到时间 | 二阶段确认 | 确认时间 | 来源 |
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *exportService) ExportRoster(ctx context.Context, session *model.AttendanceSession) (*bytes.Buffer, string, error) {
	records, err := s.repo.Record.ListBySession(ctx, session.SessionID)
	if err != nil {
		s.logger.Error("查询签到记录失败", zap.String("session_id", session.SessionID), zap.Error(err))
		return nil, "", err
	}

	loc := s.clock.Location()

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "签到名册"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	// 设置列宽
	f.SetColWidth(sheetName, "A", "A", 16)
	f.SetColWidth(sheetName, "B", "B", 14)
	f.SetColWidth(sheetName, "C", "C", 20)
	f.SetColWidth(sheetName, "D", "D", 12)
	f.SetColWidth(sheetName, "E", "E", 20)
	f.SetColWidth(sheetName, "F", "F", 10)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s — 签到名册", session.Label))
	f.MergeCell(sheetName, "A1", "F1")
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	headers := []string{"姓名", "学号", "签到时间", "二阶段确认", "确认时间", "来源"}
	for i, h := range headers {
		f.SetCellValue(sheetName, cell(colName(i), 2), h)
	}

	// 数据行
	row := 3
	for i := range records {
		r := &records[i]

		name, studentNo := r.StudentID, ""
		if r.Student != nil {
			name, studentNo = r.Student.Name, r.Student.StudentNo
		}
		completed := "否"
		completedAt := "-"
		if r.SecondPhaseCompleted {
			completed = "是"
			if r.CompletedAt != nil {
				completedAt = r.CompletedAt.In(loc).Format("2006-01-02 15:04:05")
			}
		}
		origin := "扫码签到"
		if r.IsManualEntry {
			origin = "手工补录"
		}

		f.SetCellValue(sheetName, cell("A", row), name)
		f.SetCellValue(sheetName, cell("B", row), studentNo)
		f.SetCellValue(sheetName, cell("C", row), r.CheckedInAt.In(loc).Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheetName, cell("D", row), completed)
		f.SetCellValue(sheetName, cell("E", row), completedAt)
		f.SetCellValue(sheetName, cell("F", row), origin)
		row++
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("签到名册_%s_%s.xlsx",
		session.Label, session.ScheduledAt.In(loc).Format("20060102"))
	return buf, filename, nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
