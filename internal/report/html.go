package report

import (
	"html/template"
	"io"
	"sort"

	"github.com/John-Robertt/evihash/internal/domain"
)

type extCount struct {
	Ext   string
	Count int
}

type htmlView struct {
	Report     domain.RunReport
	Headers    []string
	Rows       []Row
	TotalSize  string
	Extensions []extCount
}

var pageTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>校验报告</title>
<style>
body{font-family:sans-serif;margin:2em;color:#1e293b}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #cbd5e1;padding:4px 8px;text-align:left;font-size:13px}
td.digest{font-family:monospace;word-break:break-all}
tr.error td{background:#fef2f2}
</style>
</head>
<body>
<h1>校验报告</h1>
<section id="summary">
<dl>
<dt>文件总数</dt><dd class="total-files">{{.Report.Summary.TotalFiles}}</dd>
<dt>总大小</dt><dd class="total-size">{{.TotalSize}}</dd>
<dt>已完成</dt><dd class="processed">{{.Report.Summary.ProcessedCount}}</dd>
<dt>失败</dt><dd class="failed">{{.Report.Summary.FailedCount}}</dd>
<dt>算法</dt><dd class="algorithms">{{.Report.FastAlgorithm}} / {{.Report.SecureAlgorithm}}</dd>
<dt>完成时间</dt><dd class="finished">{{.Report.FinishedAt.Format "2006-01-02 15:04:05Z07:00"}}</dd>
</dl>
</section>
<section id="extensions">
<ul>
{{- range .Extensions}}
<li data-ext="{{.Ext}}">{{.Ext}}: {{.Count}}</li>
{{- end}}
</ul>
</section>
<table id="records">
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr{{if eq .Status "error"}} class="error"{{end}}><td>{{.Path}}</td><td>{{.Name}}</td><td>{{.HumanSize}}</td><td>{{.Bytes}}</td><td class="digest">{{.Fast}}</td><td class="digest">{{.Secure}}</td><td>{{.Status}}</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// WriteHTML 写出静态结果页：汇总、扩展名分布与逐条记录表。
func WriteHTML(w io.Writer, rr domain.RunReport) error {
	exts := make([]extCount, 0, len(rr.Summary.Extensions))
	for k, v := range rr.Summary.Extensions {
		exts = append(exts, extCount{Ext: k, Count: v})
	}
	// 数量降序，同数量按名字升序。
	sort.Slice(exts, func(i, j int) bool {
		if exts[i].Count != exts[j].Count {
			return exts[i].Count > exts[j].Count
		}
		return exts[i].Ext < exts[j].Ext
	})

	return pageTmpl.Execute(w, htmlView{
		Report:     rr,
		Headers:    Headers(rr.FastAlgorithm),
		Rows:       Rows(rr.Records),
		TotalSize:  HumanSize(rr.Summary.TotalSize),
		Extensions: exts,
	})
}
