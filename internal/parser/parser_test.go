package parser

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>MADDE 1 -</w:t></w:r><w:r><w:t xml:space="preserve"> Amaç</w:t></w:r></w:p>
<w:p><w:r><w:t>Öğrenci</w:t><w:tab/><w:t>&amp; akademik takvim</w:t></w:r></w:p>
</w:body>
</w:document>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Yönetmelik Madde 5", NormalizeText(" Yönetmelik\x00\n\n\tMadde   5 \r\n"))
	assert.Equal(t, "", NormalizeText("\x00 \x01"))
	assert.Equal(t, "ABC def", NormalizeText("ABC def"))
}

func TestIsSupported(t *testing.T) {
	allowed := []string{".pdf", ".DOCX"}

	assert.True(t, IsSupported("/x/a.pdf", allowed))
	assert.True(t, IsSupported("a.PDF", allowed))
	assert.True(t, IsSupported("a.docx", allowed))
	assert.False(t, IsSupported("a.txt", allowed))
	assert.False(t, IsSupported("a.doc", []string{".doc"}))
	assert.False(t, IsSupported("README", allowed))
}

func TestSupportedExtensions(t *testing.T) {
	assert.Equal(t, []string{".docx", ".md", ".pdf", ".pptx", ".txt", ".xlsx"}, SupportedExtensions())
}

func TestExtractText_DOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yonetmelik.docx")
	writeZip(t, path, map[string]string{
		"word/document.xml":            documentXML,
		"word/_rels/document.xml.rels": relsXML,
	})

	got, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "MADDE 1 - Amaç Öğrenci & akademik takvim", got)
}

func TestExtractText_PPTX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sunum.pptx")
	writeZip(t, path, map[string]string{
		"ppt/slides/slide1.xml": `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>Kayıt</a:t></a:r></a:p></p:sld>`,
		"ppt/presentation.xml":  `<p:presentation xmlns:p="p"/>`,
	})

	got, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Kayıt", got)
}

func TestExtractText_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "takvim.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Dönem"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Güz"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Kayıt"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	got, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Sheet1: Dönem Güz Kayıt", got)
}

func TestExtractText_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sss.md")
	require.NoError(t, os.WriteFile(path, []byte("# Başlık\n\nBir **kalın** ve *eğik* metin.\n\n- madde bir\n- madde iki\n"), 0o600))

	got, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Başlık Bir kalın ve eğik metin. madde bir madde iki", got)
}

func TestExtractText_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.txt")
	require.NoError(t, os.WriteFile(path, []byte("satır bir\n\nsatır\x00iki"), 0o600))

	got, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "satır bir satır iki", got)
}

func TestExtractText_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ExtractText(filepath.Join(dir, "a.odt"))
	assert.ErrorContains(t, err, "unsupported file format")

	broken := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(broken, []byte("not a pdf"), 0o600))
	_, err = ExtractText(broken)
	assert.ErrorContains(t, err, "broken.pdf")
}
