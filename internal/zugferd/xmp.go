package zugferd

import (
	"github.com/beevik/etree"
)

const (
	nsRDF       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsPDFAID    = "http://www.aiim.org/pdfa/ns/id/"
	nsDC        = "http://purl.org/dc/elements/1.1/"
	nsPDF       = "http://ns.adobe.com/pdf/1.3/"
	nsFacturX   = "urn:factur-x:pdfa:CrossIndustryDocument:invoice:1p0#"
	xmpPacketID = "W5M0MpCehiHzreSzNTczkc9d"
)

// buildXMP returns the XMP metadata packet declaring PDF/A-3 and the Factur-X extension
func buildXMP(info DocInfo, profile Profile) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xpacket", `begin="`+"\uFEFF"+`" id="`+xmpPacketID+`"`)

	meta := doc.CreateElement("x:xmpmeta")
	meta.CreateAttr("xmlns:x", "adobe:ns:meta/")
	rdf := meta.CreateElement("rdf:RDF")
	rdf.CreateAttr("xmlns:rdf", nsRDF)

	pdfa := description(rdf, "pdfaid", nsPDFAID)
	pdfa.CreateElement("pdfaid:part").SetText("3")
	pdfa.CreateElement("pdfaid:conformance").SetText("B")

	dc := description(rdf, "dc", nsDC)
	li := dc.CreateElement("dc:title").CreateElement("rdf:Alt").CreateElement("rdf:li")
	li.CreateAttr("xml:lang", "x-default")
	li.SetText(info.Title)
	if info.Author != "" {
		dc.CreateElement("dc:creator").CreateElement("rdf:Seq").CreateElement("rdf:li").SetText(info.Author)
	}

	pdf := description(rdf, "pdf", nsPDF)
	pdf.CreateElement("pdf:Keywords").SetText(info.Keywords)
	pdf.CreateElement("pdf:Producer").SetText(info.Creator)

	fx := description(rdf, "fx", nsFacturX)
	fx.CreateElement("fx:DocumentType").SetText("INVOICE")
	fx.CreateElement("fx:DocumentFileName").SetText(AttachmentName)
	fx.CreateElement("fx:Version").SetText("1.0")
	fx.CreateElement("fx:ConformanceLevel").SetText(profile.conformanceLevel())

	doc.CreateProcInst("xpacket", `end="w"`)
	doc.Indent(1)
	return doc.WriteToBytes()
}

func description(rdf *etree.Element, prefix, ns string) *etree.Element {
	d := rdf.CreateElement("rdf:Description")
	d.CreateAttr("rdf:about", "")
	d.CreateAttr("xmlns:"+prefix, ns)
	return d
}
